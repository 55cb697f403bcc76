package exit

import (
	"context"
	"time"

	"scalpguard/internal/logger"
	"scalpguard/internal/pkg/circuit"
)

// Engine 驱动单个持仓从监控到终态的决策流程。Engine 自身无持仓状态，可被多个持仓并发复用。
type Engine struct {
	opts    Options
	nowFn   func() time.Time
	breaker *circuit.CircuitBreaker
}

type EngineOption func(*Engine)

// WithClock 替换时间源（测试用）；ticker 仍按 TickInterval 真实触发。
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// WithProbeBreaker 为机会探针加熔断，所有持仓共享同一个 breaker。
func WithProbeBreaker(cb *circuit.CircuitBreaker) EngineOption {
	return func(e *Engine) { e.breaker = cb }
}

func NewEngine(opts Options, extra ...EngineOption) *Engine {
	e := &Engine{
		opts:  opts.normalized(),
		nowFn: time.Now,
	}
	for _, opt := range extra {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Engine) Options() Options { return e.opts }

// Monitor 以固定间隔轮询价格直至得出唯一终态结果。它不会返回错误也不会 panic：
// 非法配置与缺失 sampler 直接得到 CANCELLED；ctx 取消与 Cancel 探针等价。
func (e *Engine) Monitor(ctx context.Context, cfg PositionConfig, hooks Hooks) (res Result) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := e.nowFn()
	m := newMonitor(cfg, e.opts, hooks, start)
	m.probe = e.queryOpportunity

	if err := cfg.Validate(); err != nil {
		logger.Warnf("exit %s: invalid position config: %v", cfg.Symbol, err)
		return m.cancelled(0)
	}
	if hooks.Sampler == nil {
		logger.Warnf("exit %s: no price sampler supplied", cfg.Symbol)
		return m.cancelled(0)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("exit %s: monitor panic: %v", cfg.Symbol, r)
			res = m.cancelled(e.nowFn().Sub(start))
		}
	}()

	logger.Infof("exit %s: monitoring %s entry=%.8f tp=%.4f%% sl=%.4f%% max_hold=%s trailing=%v",
		cfg.Symbol, cfg.Side, cfg.EntryPrice, cfg.TakeProfitPct, cfg.StopLossPct, cfg.MaxHold, cfg.TrailingEnabled)

	ticker := time.NewTicker(e.opts.TickInterval)
	defer ticker.Stop()
	for {
		if out, done := m.step(ctx, e.nowFn()); done {
			logger.Infof("exit %s: %s win=%v profit=%.6f exit=%.8f hold=%s",
				cfg.Symbol, out.Reason, out.IsWin, out.ProfitUSD, out.ExitPrice, out.HoldDuration.Round(time.Millisecond))
			return out
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}
