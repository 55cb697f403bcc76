package exit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"scalpguard/internal/logger"
	"scalpguard/internal/money"
	"scalpguard/internal/pkg/trading"
)

// MonitorState 是单个持仓监控期间的私有可变状态，随 Monitor 调用创建、随其返回销毁。
type MonitorState struct {
	MaxProfitPct    decimal.Decimal
	MinProfitPct    decimal.Decimal
	BreakevenActive bool
	TrailingActive  bool
	StopPrice       decimal.Decimal
	ExtendedHold    bool
	ExtendedSince   time.Duration
	Elapsed         time.Duration
	Samples         int
}

func (s *MonitorState) observe(pct decimal.Decimal, elapsed time.Duration) {
	if s.Samples == 0 {
		s.MaxProfitPct = pct
		s.MinProfitPct = pct
	} else {
		if pct.GreaterThan(s.MaxProfitPct) {
			s.MaxProfitPct = pct
		}
		if pct.LessThan(s.MinProfitPct) {
			s.MinProfitPct = pct
		}
	}
	s.Samples++
	s.Elapsed = elapsed
}

// monitor 绑定一次监控会话的不可变参数（预先换算为 decimal）与可变状态。
type monitor struct {
	cfg   PositionConfig
	opts  Options
	hooks Hooks
	probe func(context.Context, OpportunityProbe) *Opportunity
	start time.Time
	state MonitorState

	side         trading.Side
	entry        decimal.Decimal
	size         decimal.Decimal
	feeRate      decimal.Decimal
	tpPct        decimal.Decimal
	minNet       decimal.Decimal
	minProfitUSD decimal.Decimal
	tpPrice      decimal.Decimal
	trailOffset  decimal.Decimal
	maxHold      time.Duration
	extendedMax  time.Duration
}

func newMonitor(cfg PositionConfig, opts Options, hooks Hooks, start time.Time) *monitor {
	m := &monitor{
		cfg:          cfg,
		opts:         opts,
		hooks:        hooks,
		start:        start,
		side:         cfg.Side,
		entry:        money.FromFloat(cfg.EntryPrice),
		size:         money.FromFloat(cfg.PositionSizeUSD),
		feeRate:      money.FromFloat(cfg.FeeRate),
		tpPct:        money.FromFloat(cfg.TakeProfitPct),
		minNet:       cfg.minNet(),
		minProfitUSD: money.FromFloat(cfg.MinProfitUSD),
		maxHold:      cfg.MaxHold,
		extendedMax:  time.Duration(float64(cfg.MaxHold) * opts.ExtendedHoldFactor),
	}
	m.tpPrice = money.PriceAtPercent(m.side, m.entry, m.tpPct)
	tpDistance := m.tpPrice.Sub(m.entry).Abs()
	m.trailOffset = tpDistance.Mul(money.FromFloat(opts.TrailingDistance))
	if cfg.StopLossPct > 0 {
		m.state.StopPrice = money.PriceAtPercent(m.side, m.entry, money.FromFloat(cfg.StopLossPct).Neg())
	}
	return m
}

// trailCandidate 返回距当前价 trailOffset 的跟踪止损候选位。
func (m *monitor) trailCandidate(price decimal.Decimal) decimal.Decimal {
	if m.side == trading.Short {
		return price.Add(m.trailOffset)
	}
	return price.Sub(m.trailOffset)
}

func (m *monitor) moveStop(candidate decimal.Decimal) bool {
	if !money.MoreFavorable(m.side, candidate, m.state.StopPrice) {
		return false
	}
	m.state.StopPrice = candidate
	return true
}

func (m *monitor) enterExtended(t *tick, cause string) {
	if m.state.ExtendedHold {
		return
	}
	m.state.ExtendedHold = true
	m.state.ExtendedSince = t.elapsed
	logger.Infof("exit %s: enter extended hold cause=%s elapsed=%s net=%s",
		m.cfg.Symbol, cause, t.elapsed.Round(time.Millisecond), t.net.StringFixed(4))
}

func (m *monitor) resolve(t *tick, reason Reason, profit decimal.Decimal) Result {
	return Result{
		ExitPrice:      money.Float(t.price),
		IsWin:          true,
		Reason:         reason,
		HoldDuration:   t.elapsed,
		MaxProfitPct:   money.Float(m.state.MaxProfitPct),
		MinProfitPct:   money.Float(m.state.MinProfitPct),
		ProfitUSD:      money.Float(money.NonNegative(profit).Round(8)),
		GrossProfitUSD: money.Float(t.gross.Round(8)),
		ExtendedHold:   m.state.ExtendedHold,
	}
}

func (m *monitor) cancelled(elapsed time.Duration) Result {
	return Result{
		ExitPrice:    m.cfg.EntryPrice,
		IsWin:        false,
		Reason:       ReasonCancelled,
		HoldDuration: elapsed,
		MaxProfitPct: money.Float(m.state.MaxProfitPct),
		MinProfitPct: money.Float(m.state.MinProfitPct),
		ExtendedHold: m.state.ExtendedHold,
	}
}

func (m *monitor) snapshot(t *tick) TickSnapshot {
	return TickSnapshot{
		Price:        money.Float(t.price),
		ProfitPct:    money.Float(t.pct),
		ProfitUSD:    money.Float(t.net),
		GrossUSD:     money.Float(t.gross),
		Elapsed:      t.elapsed,
		MaxProfitPct: money.Float(m.state.MaxProfitPct),
		StopPrice:    money.Float(m.state.StopPrice),
		Extended:     m.state.ExtendedHold,
	}
}
