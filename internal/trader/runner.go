package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"scalpguard/internal/gateway/notifier"
	"scalpguard/internal/logger"
	symbolpkg "scalpguard/internal/pkg/symbol"
	"scalpguard/internal/pkg/trading"
	"scalpguard/internal/store"
	"scalpguard/internal/store/model"
	"scalpguard/internal/strategy/exit"
)

// Runner is the paper-trading execution loop around the exit engine.
//
// Each accepted position gets its own goroutine running Engine.Monitor. The
// governor is consulted before every open and fed with every non-cancelled
// result; persistence and notification happen only after the engine returns.
type Runner struct {
	engine   *exit.Engine
	gate     Gate
	profiles ProfileResolver
	prices   PriceSource
	outcomes store.OutcomeRepository
	notify   Notifier
	probes   ProbeFactory

	defaults       exit.PositionConfig
	defaultProfile string
	nowFn          func() time.Time
	newID          func() string
	onClosed       func(ClosedPosition)

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu        sync.Mutex
	positions map[string]*monitorHandle
	stopped   bool
	wg        sync.WaitGroup
}

type RunnerOption func(*Runner)

func WithOutcomeStore(repo store.OutcomeRepository) RunnerOption {
	return func(r *Runner) { r.outcomes = repo }
}

func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) { r.notify = n }
}

func WithProbeFactory(f ProbeFactory) RunnerOption {
	return func(r *Runner) { r.probes = f }
}

// WithDefaultProfile 在请求未指定 profile 时使用。
func WithDefaultProfile(id string) RunnerOption {
	return func(r *Runner) { r.defaultProfile = strings.TrimSpace(id) }
}

// WithClosedHook 在每个持仓结束后回调（测试与审计用）。
func WithClosedHook(fn func(ClosedPosition)) RunnerOption {
	return func(r *Runner) { r.onClosed = fn }
}

func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.nowFn = now
		}
	}
}

func NewRunner(engine *exit.Engine, gate Gate, profiles ProfileResolver, prices PriceSource, defaults exit.PositionConfig, opts ...RunnerOption) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		engine:    engine,
		gate:      gate,
		profiles:  profiles,
		prices:    prices,
		defaults:  defaults,
		nowFn:     time.Now,
		newID:     func() string { return uuid.NewString() },
		baseCtx:   ctx,
		cancelAll: cancel,
		positions: make(map[string]*monitorHandle),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Open 通过风控检查后启动一个持仓监控，返回其视图。
func (r *Runner) Open(ctx context.Context, req OpenRequest) (PositionView, error) {
	symbol := symbolpkg.Normalize(req.Symbol)
	if symbol == "" {
		return PositionView{}, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	side := trading.NormalizeSide(req.Side)
	if !side.Valid() {
		return PositionView{}, fmt.Errorf("%w: unknown side %q", ErrInvalidRequest, req.Side)
	}
	if err := ctx.Err(); err != nil {
		return PositionView{}, err
	}
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return PositionView{}, ErrStopped
	}

	decision := r.gate.CanTrade()
	if !decision.CanTrade {
		logger.Warnf("trader: open %s %s denied: %s", symbol, side, decision.Reason)
		return PositionView{}, &DeniedError{Decision: decision}
	}

	entry := req.EntryPrice
	if entry <= 0 {
		q, ok := r.prices.Latest(symbol)
		if !ok {
			r.gate.RecordError()
			return PositionView{}, fmt.Errorf("%w for %s", ErrNoPrice, symbol)
		}
		entry = q.Price
	}

	base := r.defaults
	base.Symbol = symbol
	base.Side = side
	base.EntryPrice = entry
	profile := strings.TrimSpace(req.Profile)
	if profile == "" {
		profile = r.defaultProfile
	}
	cfg, err := r.profiles.ResolveWithOverrides(profile, base, req.Overrides)
	if err != nil {
		return PositionView{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	r.gate.RecordSuccess()

	h := &monitorHandle{
		view: PositionView{
			ID:       r.newID(),
			Symbol:   symbol,
			Side:     side.String(),
			Profile:  profile,
			Config:   cfg,
			OpenedAt: r.nowFn(),
		},
		done: make(chan struct{}),
	}
	mctx, cancel := context.WithCancel(r.baseCtx)
	h.cancel = cancel

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		cancel()
		return PositionView{}, ErrStopped
	}
	r.positions[h.view.ID] = h
	r.wg.Add(1)
	view := h.view
	r.mu.Unlock()

	logger.Infof("trader: opened %s %s %s entry=%.8f profile=%s", view.ID, symbol, side, entry, profile)
	go r.monitor(mctx, h)
	return view, nil
}

func (r *Runner) monitor(ctx context.Context, h *monitorHandle) {
	defer r.wg.Done()
	defer h.cancel()

	hooks := exit.Hooks{
		Sampler: r.prices.Sampler(h.view.Symbol),
		OnTick: exit.TickFunc(func(s exit.TickSnapshot) {
			r.mu.Lock()
			snap := s
			h.view.Last = &snap
			r.mu.Unlock()
		}),
	}
	if r.probes != nil {
		hooks.Opportunity = r.probes(h.view.Config)
	}
	res := r.engine.Monitor(ctx, h.view.Config, hooks)
	r.finish(h, res)
}

// finish 在引擎返回后执行：先回写风控，再落库与推送。
func (r *Runner) finish(h *monitorHandle, res exit.Result) {
	r.mu.Lock()
	delete(r.positions, h.view.ID)
	h.result = res
	view := h.view
	r.mu.Unlock()
	defer close(h.done)

	if !res.Cancelled() {
		r.gate.RecordTrade(res.IsWin, res.ProfitUSD)
	}
	closed := ClosedPosition{PositionView: view, Result: res}
	r.persist(closed)
	if r.notify != nil {
		msg := notifier.StructuredMessage{Icon: resultIcon(res), Title: res.Title(), Timestamp: r.nowFn()}
		msg.AddSection("持仓 "+view.ID, exit.SummaryLines(view.Config, res)...)
		r.notify.Send(msg)
	}
	if r.onClosed != nil {
		r.onClosed(closed)
	}
}

func (r *Runner) persist(c ClosedPosition) {
	if r.outcomes == nil {
		return
	}
	raw, err := json.Marshal(c.Config)
	if err != nil {
		logger.Warnf("trader: encode position config %s: %v", c.ID, err)
	}
	rec := &model.TradeOutcomeModel{
		PositionID:     c.ID,
		Symbol:         c.Symbol,
		Side:           c.Side,
		Profile:        c.Profile,
		EntryPrice:     c.Config.EntryPrice,
		ExitPrice:      c.Result.ExitPrice,
		Reason:         c.Result.Reason.String(),
		IsWin:          c.Result.IsWin,
		ProfitUSD:      c.Result.ProfitUSD,
		GrossProfitUSD: c.Result.GrossProfitUSD,
		HoldMs:         c.Result.HoldDuration.Milliseconds(),
		MaxProfitPct:   c.Result.MaxProfitPct,
		MinProfitPct:   c.Result.MinProfitPct,
		ExtendedHold:   c.Result.ExtendedHold,
		PositionConfig: datatypes.JSON(raw),
		OpenedAt:       c.OpenedAt,
		CreatedAt:      r.nowFn(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.outcomes.InsertOutcome(ctx, rec); err != nil {
		logger.Errorf("trader: persist outcome %s: %v", c.ID, err)
	}
}

// Close 请求放弃监控并等待终态结果；ctx 只约束等待时间。
func (r *Runner) Close(ctx context.Context, id string) (exit.Result, error) {
	r.mu.Lock()
	h, ok := r.positions[strings.TrimSpace(id)]
	r.mu.Unlock()
	if !ok {
		return exit.Result{}, fmt.Errorf("%w: %s", ErrUnknownPosition, id)
	}
	h.cancel()
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return exit.Result{}, ctx.Err()
	}
}

// Positions 返回当前在监控中的持仓，按开仓时间排序。
func (r *Runner) Positions() []PositionView {
	r.mu.Lock()
	out := make([]PositionView, 0, len(r.positions))
	for _, h := range r.positions {
		v := h.view
		if v.Last != nil {
			snap := *v.Last
			v.Last = &snap
		}
		out = append(out, v)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Run 阻塞到 ctx 结束，随后取消全部监控并等待它们给出终态。
func (r *Runner) Run(ctx context.Context) error {
	<-ctx.Done()
	r.Shutdown()
	return nil
}

// Shutdown 拒绝新开仓，取消所有监控并等待结束。可重复调用。
func (r *Runner) Shutdown() {
	r.mu.Lock()
	r.stopped = true
	n := len(r.positions)
	r.mu.Unlock()
	if n > 0 {
		logger.Infof("trader: cancelling %d open monitors", n)
	}
	r.cancelAll()
	r.wg.Wait()
}

func resultIcon(res exit.Result) string {
	switch {
	case res.Cancelled():
		return "⏹"
	case res.Reason == exit.ReasonOpportunityExit:
		return "🔁"
	case res.ProfitUSD > 0:
		return "✅"
	default:
		return "⚖️"
	}
}
