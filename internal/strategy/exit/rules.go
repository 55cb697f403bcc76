package exit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"scalpguard/internal/logger"
	"scalpguard/internal/money"
)

// tick 是一次评估的输入；价格相关字段仅在 hasPrice 时有效。
type tick struct {
	now      time.Time
	elapsed  time.Duration
	hasPrice bool
	price    decimal.Decimal
	pct      decimal.Decimal
	gross    decimal.Decimal
	net      decimal.Decimal
}

type verdict int

const (
	proceed verdict = iota
	skipTick
	resolved
)

type rule struct {
	name string
	eval func(ctx context.Context, m *monitor, t *tick) (verdict, Result)
}

// tickRules 的顺序即优先级，先命中者生效；不要调整顺序。
var tickRules = []rule{
	{name: "cancellation", eval: ruleCancellation},
	{name: "sample", eval: ruleSample},
	{name: "take_profit", eval: ruleTakeProfit},
	{name: "super_scalp", eval: ruleSuperScalp},
	{name: "protect", eval: ruleProtect},
	{name: "stop_touch", eval: ruleStopTouch},
	{name: "time_exit", eval: ruleTimeExit},
	{name: "extended_hold", eval: ruleExtendedHold},
}

// step 评估一个 tick，返回 (结果, 是否终结)。
func (m *monitor) step(ctx context.Context, now time.Time) (Result, bool) {
	t := &tick{now: now, elapsed: now.Sub(m.start)}
	if t.elapsed < 0 {
		t.elapsed = 0
	}
	for _, r := range tickRules {
		v, res := r.eval(ctx, m, t)
		switch v {
		case skipTick:
			return Result{}, false
		case resolved:
			logger.Debugf("exit %s: resolved by rule=%s reason=%s profit=%.6f elapsed=%s",
				m.cfg.Symbol, r.name, res.Reason, res.ProfitUSD, res.HoldDuration.Round(time.Millisecond))
			return res, true
		}
	}
	return Result{}, false
}

func ruleCancellation(ctx context.Context, m *monitor, t *tick) (verdict, Result) {
	if ctx.Err() != nil || m.cancelRequested() {
		return resolved, m.cancelled(t.elapsed)
	}
	return proceed, Result{}
}

func ruleSample(_ context.Context, m *monitor, t *tick) (verdict, Result) {
	price, ok := m.samplePrice()
	if !ok {
		return skipTick, Result{}
	}
	t.hasPrice = true
	t.price = price
	t.pct = money.ProfitPercent(m.side, m.entry, price)
	t.gross = money.GrossFromPercent(t.pct, m.size)
	t.net = money.NetFromGross(t.gross, m.size, m.feeRate)
	m.state.observe(t.pct, t.elapsed)
	m.notifyTick(t)
	return proceed, Result{}
}

// ruleTakeProfit 按毛利结算（此分支不扣手续费）。
func ruleTakeProfit(_ context.Context, m *monitor, t *tick) (verdict, Result) {
	if !money.Reached(m.side, t.price, m.tpPrice) {
		return proceed, Result{}
	}
	return resolved, m.resolve(t, ReasonTakeProfit, t.gross)
}

func ruleSuperScalp(_ context.Context, m *monitor, t *tick) (verdict, Result) {
	if t.elapsed < m.opts.MinScalpHold {
		return proceed, Result{}
	}
	ratio := money.FromFloat(m.opts.SuperScalpRatio)
	target := money.TargetNet(m.tpPct, m.size, m.feeRate)
	captured := target.IsPositive() && t.net.Div(target).GreaterThanOrEqual(ratio)
	if !captured && t.net.LessThan(m.minNet) {
		return proceed, Result{}
	}
	if t.net.LessThan(m.minNet.Mul(ratio)) {
		return proceed, Result{}
	}
	return resolved, m.resolve(t, ReasonSuperScalp, t.net)
}

// ruleProtect 负责保本/跟踪止损的激活与上移，从不终结。
func ruleProtect(_ context.Context, m *monitor, t *tick) (verdict, Result) {
	if !m.cfg.TrailingEnabled || !m.tpPct.IsPositive() {
		return proceed, Result{}
	}
	progress := t.pct.Div(m.tpPct)
	if !m.state.BreakevenActive && progress.GreaterThanOrEqual(money.FromFloat(m.opts.BreakevenProgress)) {
		m.state.BreakevenActive = true
		m.moveStop(m.entry)
		logger.Debugf("exit %s: breakeven armed stop=%s", m.cfg.Symbol, m.state.StopPrice.String())
	}
	if !m.state.TrailingActive && progress.GreaterThanOrEqual(money.FromFloat(m.opts.TrailingProgress)) {
		m.state.TrailingActive = true
		logger.Debugf("exit %s: trailing armed at price=%s", m.cfg.Symbol, t.price.String())
	}
	if m.state.TrailingActive {
		m.moveStop(m.trailCandidate(t.price))
	}
	return proceed, Result{}
}

// ruleStopTouch 永不以亏损退出：利润不足时转入延长持有并继续后续规则。
func ruleStopTouch(_ context.Context, m *monitor, t *tick) (verdict, Result) {
	if !money.Breached(m.side, t.price, m.state.StopPrice) {
		return proceed, Result{}
	}
	protected := m.state.BreakevenActive || m.state.TrailingActive
	if protected && t.net.GreaterThanOrEqual(m.minNet) {
		reason := ReasonBreakeven
		if m.state.TrailingActive {
			reason = ReasonTrailingStop
		}
		return resolved, m.resolve(t, reason, t.net)
	}
	m.enterExtended(t, "stop_touch")
	return proceed, Result{}
}

func ruleTimeExit(_ context.Context, m *monitor, t *tick) (verdict, Result) {
	if m.state.ExtendedHold || t.elapsed < m.maxHold {
		return proceed, Result{}
	}
	if t.net.GreaterThanOrEqual(m.minNet) {
		return resolved, m.resolve(t, ReasonTimeExit, t.net)
	}
	m.enterExtended(t, "max_hold")
	return proceed, Result{}
}

func ruleExtendedHold(ctx context.Context, m *monitor, t *tick) (verdict, Result) {
	if !m.state.ExtendedHold {
		return proceed, Result{}
	}
	if t.net.GreaterThanOrEqual(m.minNet) {
		return resolved, m.resolve(t, ReasonMinProfitExit, t.net)
	}
	if t.elapsed < m.extendedMax {
		return proceed, Result{}
	}
	if !t.gross.IsNegative() && m.hooks.Opportunity != nil && m.probe != nil {
		if opp := m.probe(ctx, m.hooks.Opportunity); opp != nil {
			if money.FromFloat(opp.ExpectedProfit).GreaterThanOrEqual(m.minProfitUSD) {
				logger.Infof("exit %s: releasing capital for %s", m.cfg.Symbol, opp.String())
				return resolved, m.resolve(t, ReasonOpportunityExit, decimal.Zero)
			}
		}
	}
	return resolved, m.resolve(t, ReasonTimeExit, money.NonNegative(t.net))
}

func (m *monitor) cancelRequested() (cancel bool) {
	if m.hooks.Cancel == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("exit %s: cancel probe panic: %v", m.cfg.Symbol, r)
			cancel = false
		}
	}()
	return m.hooks.Cancel.Cancelled()
}

func (m *monitor) samplePrice() (price decimal.Decimal, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("exit %s: price sampler panic: %v", m.cfg.Symbol, r)
			price, ok = decimal.Zero, false
		}
	}()
	raw, has := m.hooks.Sampler.Sample()
	if !has || raw <= 0 {
		return decimal.Zero, false
	}
	price = money.FromFloat(raw)
	if !price.IsPositive() {
		return decimal.Zero, false
	}
	return price, true
}

func (m *monitor) notifyTick(t *tick) {
	if m.hooks.OnTick == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("exit %s: tick observer panic: %v", m.cfg.Symbol, r)
		}
	}()
	m.hooks.OnTick.OnTick(m.snapshot(t))
}
