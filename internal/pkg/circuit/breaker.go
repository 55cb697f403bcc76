package circuit

import (
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Snapshot 是 breaker 的只读视图。
type Snapshot struct {
	Name        string
	State       State
	Failures    int
	LastFailure time.Time
}

// CircuitBreaker 在连续失败达到阈值后短路调用；冷却期后只放行一次试探，
// 试探结果决定回到 CLOSED 还是重新 OPEN。
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	trial       bool
	nowFn       func() time.Time
	onChange    func(name string, from, to State)
}

func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		nowFn:     time.Now,
	}
}

// SetClock 替换时间源，测试用。
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	cb.mu.Lock()
	cb.nowFn = now
	cb.mu.Unlock()
}

// SetStateChangeHandler 注册状态切换回调，回调在释放锁之后执行。
func (cb *CircuitBreaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	cb.mu.Lock()
	cb.onChange = handler
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{Name: cb.name, State: cb.state, Failures: cb.failures, LastFailure: cb.lastFailure}
}

// Allow 判断本次调用是否放行。HALF-OPEN 期间同一时刻只有一个试探。
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	var (
		ok     bool
		change func()
	)
	switch cb.state {
	case StateClosed:
		ok = true
	case StateOpen:
		if cb.nowFn().Sub(cb.lastFailure) >= cb.cooldown {
			change = cb.setState(StateHalfOpen)
			cb.trial = true
			ok = true
		}
	case StateHalfOpen:
		if !cb.trial {
			cb.trial = true
			ok = true
		}
	}
	cb.mu.Unlock()
	fire(change)
	return ok
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var change func()
	cb.failures = 0
	cb.trial = false
	if cb.state == StateHalfOpen {
		change = cb.setState(StateClosed)
	}
	cb.mu.Unlock()
	fire(change)
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var change func()
	cb.failures++
	cb.lastFailure = cb.nowFn()
	cb.trial = false
	switch {
	case cb.state == StateHalfOpen:
		change = cb.setState(StateOpen)
	case cb.state == StateClosed && cb.failures >= cb.threshold:
		change = cb.setState(StateOpen)
	}
	cb.mu.Unlock()
	fire(change)
}

// setState 需持锁调用，返回待执行的回调。
func (cb *CircuitBreaker) setState(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	handler, name := cb.onChange, cb.name
	if handler == nil {
		return nil
	}
	return func() { handler(name, from, to) }
}

func fire(fn func()) {
	if fn != nil {
		fn()
	}
}
