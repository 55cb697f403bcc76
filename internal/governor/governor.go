package governor

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"scalpguard/internal/logger"
)

// Governor 是进程级会话风控：滚动胜率、连亏计数、错误计数与暂停/熔断状态。
// 所有读改写都在同一把锁内完成，可被多个持仓的结算回调并发调用。
type Governor struct {
	mu    sync.Mutex
	opts  Options
	nowFn func() time.Time

	window            []Outcome
	consecutiveLosses int
	consecutiveWins   int
	consecutiveErrors int

	isPaused    bool
	pauseUntil  time.Time
	haltActive  bool
	haltReason  string
	pauseReason string

	listeners []Listener
	metrics   *metrics
}

type Option func(*Governor)

func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		if now != nil {
			g.nowFn = now
		}
	}
}

// WithMetrics 在给定 registerer 上注册风控指标；不传则不导出指标。
func WithMetrics(reg prometheus.Registerer) Option {
	return func(g *Governor) {
		if reg != nil {
			g.metrics = newMetrics(reg)
		}
	}
}

func WithListener(l Listener) Option {
	return func(g *Governor) {
		if l != nil {
			g.listeners = append(g.listeners, l)
		}
	}
}

func New(opts Options, extra ...Option) *Governor {
	g := &Governor{
		opts:  opts.normalized(),
		nowFn: time.Now,
	}
	for _, opt := range extra {
		if opt != nil {
			opt(g)
		}
	}
	g.window = make([]Outcome, 0, g.opts.WindowSize)
	g.metrics.observe(g.statsLocked(g.nowFn()))
	return g
}

func (g *Governor) Options() Options { return g.opts }

// RecordTrade 追加一笔结算并评估熔断条件。调用方负责正确区分输赢，这里照单全收。
func (g *Governor) RecordTrade(isWin bool, pnl float64) {
	g.mu.Lock()
	now := g.nowFn()
	g.appendLocked(Outcome{IsWin: isWin, PnL: pnl, At: now})
	if isWin {
		g.consecutiveWins++
		g.consecutiveLosses = 0
	} else {
		g.consecutiveLosses++
		g.consecutiveWins = 0
	}
	events := g.tripLocked(now)
	g.metrics.trade(isWin)
	g.observeLocked(now)
	g.mu.Unlock()

	g.dispatch(events)
}

// HaltSession 进入 HALTED，冷却期从现在重新计时。
func (g *Governor) HaltSession(reason string) {
	g.mu.Lock()
	now := g.nowFn()
	ev := g.haltLocked(now, reason)
	g.observeLocked(now)
	g.mu.Unlock()

	g.dispatch([]Event{ev})
}

// IsSessionHalted 在冷却期结束时重新校验条件：恢复则解除，否则再延长一个冷却期。
// 冷却期内重复调用不会改变状态。
func (g *Governor) IsSessionHalted() HaltStatus {
	g.mu.Lock()
	now := g.nowFn()
	status, events := g.checkHaltLocked(now)
	g.observeLocked(now)
	g.mu.Unlock()

	g.dispatch(events)
	return status
}

// CanTrade 是开仓前检查。拒绝时可能顺带施加一段暂停。
func (g *Governor) CanTrade() Decision {
	g.mu.Lock()
	now := g.nowFn()
	halt, events := g.checkHaltLocked(now)
	rate := g.hitRateLocked()
	d := Decision{CurrentHitRate: rate, RequiredMinimum: g.opts.MinHitRate}

	switch {
	case halt.Halted:
		d.Reason = fmt.Sprintf("session halted: %s (until %s)", halt.Reason, halt.Until.Format(time.RFC3339))
		d.IsPaused = true
	case g.isPaused && now.Before(g.pauseUntil):
		d.Reason = fmt.Sprintf("trading paused: %s (%.0fs remaining)", g.pauseReason, g.pauseUntil.Sub(now).Seconds())
		d.IsPaused = true
	default:
		if g.isPaused {
			g.isPaused = false
			g.pauseReason = ""
		}
		switch {
		case len(g.window) < g.opts.MinHistory:
			d.CanTrade = true
			d.Reason = fmt.Sprintf("building history (%d/%d trades)", len(g.window), g.opts.MinHistory)
		case rate < g.opts.CriticalHitRate:
			reason := fmt.Sprintf("critical hit rate %.1f%% below %.0f%%", rate, g.opts.CriticalHitRate)
			events = append(events, g.pauseLocked(now, g.opts.CriticalPause, reason))
			d.Reason = reason
			d.IsPaused = true
			d.AnalysisRequired = true
		case rate < g.opts.MinHitRate:
			reason := fmt.Sprintf("hit rate %.1f%% below %.0f%% minimum", rate, g.opts.MinHitRate)
			events = append(events, g.pauseLocked(now, g.opts.MinPause, reason))
			d.Reason = reason
			d.IsPaused = true
			d.AnalysisRequired = true
		default:
			d.CanTrade = true
			d.Reason = fmt.Sprintf("hit rate %.1f%% healthy", rate)
		}
	}
	if !d.CanTrade {
		g.metrics.denied(d.AnalysisRequired)
	}
	g.observeLocked(now)
	g.mu.Unlock()

	g.dispatch(events)
	return d
}

func (g *Governor) RecordError() {
	g.mu.Lock()
	now := g.nowFn()
	g.consecutiveErrors++
	var events []Event
	if g.consecutiveErrors >= g.opts.MaxConsecutiveErrors {
		events = append(events, g.pauseLocked(now, g.opts.ErrorPause,
			fmt.Sprintf("%d consecutive errors", g.consecutiveErrors)))
	}
	g.observeLocked(now)
	g.mu.Unlock()

	g.dispatch(events)
}

func (g *Governor) RecordSuccess() {
	g.mu.Lock()
	g.consecutiveErrors = 0
	g.observeLocked(g.nowFn())
	g.mu.Unlock()
}

// RollingHitRate 覆盖整个窗口；空窗口返回 100。
func (g *Governor) RollingHitRate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hitRateLocked()
}

// RecentHitRate 只看最近 n 笔。
func (g *Governor) RecentHitRate(n int) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recentHitRateLocked(n)
}

// Reset 清空全部状态，供运维手动解除熔断。
func (g *Governor) Reset() {
	g.mu.Lock()
	g.window = g.window[:0]
	g.consecutiveLosses = 0
	g.consecutiveWins = 0
	g.consecutiveErrors = 0
	g.isPaused = false
	g.pauseUntil = time.Time{}
	g.pauseReason = ""
	g.haltActive = false
	g.haltReason = ""
	now := g.nowFn()
	ev := Event{Kind: EventReset, Reason: "manual reset", At: now}
	g.observeLocked(now)
	g.mu.Unlock()

	logger.Infof("governor: state reset")
	g.dispatch([]Event{ev})
}

func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statsLocked(g.nowFn())
}

// Restore 用持久化的历史结算预热窗口（按时间正序），连胜/连亏由尾部重算。
// 原有的暂停不恢复，但重算后的状态会按 RecordTrade 的同一套条件重新判定熔断，
// 命中则从恢复时刻起算冷却期。
func (g *Governor) Restore(outcomes []Outcome) {
	g.mu.Lock()
	now := g.nowFn()
	g.window = g.window[:0]
	for _, o := range outcomes {
		g.appendLocked(o)
	}
	g.consecutiveLosses, g.consecutiveWins = 0, 0
	for i := len(g.window) - 1; i >= 0; i-- {
		if g.window[i].IsWin {
			if g.consecutiveLosses > 0 {
				break
			}
			g.consecutiveWins++
		} else {
			if g.consecutiveWins > 0 {
				break
			}
			g.consecutiveLosses++
		}
	}
	events := g.tripLocked(now)
	st := g.observeLocked(now)
	g.mu.Unlock()

	logger.Infof("governor: restored %d outcomes hit_rate=%.1f%% consecutive_losses=%d halted=%t",
		st.TotalTrades, st.HitRate, st.ConsecutiveLosses, st.SessionHalted)
	g.dispatch(events)
}

// tripLocked 依次检查连亏与最近 TripWindow 笔胜率，命中即进入熔断。
func (g *Governor) tripLocked(now time.Time) []Event {
	if g.consecutiveLosses >= g.opts.MaxConsecutiveLosses {
		return []Event{g.haltLocked(now, fmt.Sprintf("%d consecutive losses", g.consecutiveLosses))}
	}
	if len(g.window) < g.opts.TripWindow {
		return nil
	}
	if rate := g.recentHitRateLocked(g.opts.TripWindow); rate < g.opts.MinHitRate {
		return []Event{g.haltLocked(now, fmt.Sprintf("hit rate %.1f%% over last %d trades below %.0f%% minimum",
			rate, g.opts.TripWindow, g.opts.MinHitRate))}
	}
	return nil
}

// observeLocked 在锁内刷新指标，保证 gauge 与状态的先后一致。
func (g *Governor) observeLocked(now time.Time) Stats {
	st := g.statsLocked(now)
	g.metrics.observe(st)
	return st
}

func (g *Governor) appendLocked(o Outcome) {
	if len(g.window) >= g.opts.WindowSize {
		copy(g.window, g.window[1:])
		g.window = g.window[:len(g.window)-1]
	}
	g.window = append(g.window, o)
}

func (g *Governor) haltLocked(now time.Time, reason string) Event {
	kind := EventHalted
	if g.haltActive {
		kind = EventHaltExtended
	}
	g.haltActive = true
	g.haltReason = reason
	g.isPaused = true
	g.pauseReason = reason
	g.pauseUntil = now.Add(g.opts.HaltCooloff)
	if kind == EventHalted {
		g.metrics.halt()
	}
	logger.Warnf("governor: session halted (%s) until %s", reason, g.pauseUntil.Format(time.RFC3339))
	return Event{Kind: kind, Reason: reason, Until: g.pauseUntil, At: now}
}

// pauseLocked 只会延后、不会缩短现有暂停。
func (g *Governor) pauseLocked(now time.Time, d time.Duration, reason string) Event {
	until := now.Add(d)
	if g.isPaused && g.pauseUntil.After(until) {
		until = g.pauseUntil
	} else {
		g.pauseReason = reason
	}
	g.isPaused = true
	g.pauseUntil = until
	logger.Warnf("governor: trading paused (%s) until %s", reason, until.Format(time.RFC3339))
	return Event{Kind: EventPaused, Reason: reason, Until: until, At: now}
}

func (g *Governor) checkHaltLocked(now time.Time) (HaltStatus, []Event) {
	if !g.haltActive {
		return HaltStatus{}, nil
	}
	if now.Before(g.pauseUntil) {
		return HaltStatus{Halted: true, Reason: g.haltReason, Until: g.pauseUntil}, nil
	}
	rate := g.recentHitRateLocked(g.opts.TripWindow)
	if rate >= g.opts.MinHitRate && g.consecutiveLosses < g.opts.MaxConsecutiveLosses {
		prev := g.haltReason
		g.haltActive = false
		g.haltReason = ""
		g.isPaused = false
		g.pauseReason = ""
		logger.Infof("governor: session resumed hit_rate=%.1f%% consecutive_losses=%d", rate, g.consecutiveLosses)
		return HaltStatus{}, []Event{{Kind: EventResumed, Reason: prev, At: now}}
	}
	g.pauseUntil = now.Add(g.opts.HaltCooloff)
	g.isPaused = true
	logger.Warnf("governor: halt extended (%s) hit_rate=%.1f%% consecutive_losses=%d until %s",
		g.haltReason, rate, g.consecutiveLosses, g.pauseUntil.Format(time.RFC3339))
	ev := Event{Kind: EventHaltExtended, Reason: g.haltReason, Until: g.pauseUntil, At: now}
	return HaltStatus{Halted: true, Reason: g.haltReason, Until: g.pauseUntil}, []Event{ev}
}

func (g *Governor) hitRateLocked() float64 {
	return g.recentHitRateLocked(len(g.window))
}

func (g *Governor) recentHitRateLocked(n int) float64 {
	if n <= 0 || len(g.window) == 0 {
		return 100
	}
	if n > len(g.window) {
		n = len(g.window)
	}
	wins := 0
	for _, o := range g.window[len(g.window)-n:] {
		if o.IsWin {
			wins++
		}
	}
	return float64(wins) / float64(n) * 100
}

// statsLocked 中已过期的暂停按未暂停处理，不必等下一次 CanTrade 清理。
func (g *Governor) statsLocked(now time.Time) Stats {
	paused := g.isPaused && now.Before(g.pauseUntil)
	st := Stats{
		TotalTrades:       len(g.window),
		HitRate:           g.hitRateLocked(),
		ConsecutiveLosses: g.consecutiveLosses,
		ConsecutiveWins:   g.consecutiveWins,
		ConsecutiveErrors: g.consecutiveErrors,
		IsPaused:          paused,
		SessionHalted:     g.haltActive,
		HaltReason:        g.haltReason,
	}
	if paused {
		st.PauseUntil = g.pauseUntil
	}
	var winSum, lossSum float64
	for _, o := range g.window {
		if o.IsWin {
			st.Wins++
			winSum += o.PnL
		} else {
			st.Losses++
			lossSum += o.PnL
		}
	}
	if st.Wins > 0 {
		st.AvgWinPnL = winSum / float64(st.Wins)
	}
	if st.Losses > 0 {
		st.AvgLossPnL = lossSum / float64(st.Losses)
	}
	return st
}

func (g *Governor) dispatch(events []Event) {
	for _, ev := range events {
		for _, l := range g.listeners {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("governor: listener panic on %s: %v", ev.Kind, r)
					}
				}()
				l(ev)
			}()
		}
	}
}
