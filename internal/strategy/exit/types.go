package exit

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"scalpguard/internal/money"
	"scalpguard/internal/pkg/trading"
)

// PositionConfig 描述单个持仓的退出参数，在一次监控期间不可变。
// 百分比字段均为"百分数"（0.3 表示 0.3%）。
type PositionConfig struct {
	Symbol          string        `json:"symbol"`
	EntryPrice      float64       `json:"entry_price"`
	Side            trading.Side  `json:"side"`
	TakeProfitPct   float64       `json:"take_profit_pct"`
	StopLossPct     float64       `json:"stop_loss_pct"`
	MaxHold         time.Duration `json:"max_hold"`
	TrailingEnabled bool          `json:"trailing_enabled"`
	// MinProfitPct 是以价格变动表示的最低盈利，与 MinNetProfitUSD 取更严者。
	MinProfitPct    float64       `json:"min_profit_pct"`
	MinProfitUSD    float64       `json:"min_profit_usd"`
	PositionSizeUSD float64       `json:"position_size_usd"`
	FeeRate         float64       `json:"fee_rate"`
	MinNetProfitUSD float64       `json:"min_net_profit_usd"`
}

// Validate 校验配置是否足以驱动引擎。
func (c PositionConfig) Validate() error {
	if c.EntryPrice <= 0 {
		return fmt.Errorf("entry_price must be > 0")
	}
	if !c.Side.Valid() {
		return fmt.Errorf("side must be long or short, got %q", c.Side)
	}
	if c.TakeProfitPct <= 0 {
		return fmt.Errorf("take_profit_pct must be > 0")
	}
	if c.StopLossPct < 0 {
		return fmt.Errorf("stop_loss_pct must be >= 0")
	}
	if c.MaxHold <= 0 {
		return fmt.Errorf("max_hold must be > 0")
	}
	if c.PositionSizeUSD <= 0 {
		return fmt.Errorf("position_size_usd must be > 0")
	}
	if c.FeeRate < 0 {
		return fmt.Errorf("fee_rate must be >= 0")
	}
	if c.MinNetProfitUSD < 0 {
		return fmt.Errorf("min_net_profit_usd must be >= 0")
	}
	if c.MinProfitUSD < 0 || c.MinProfitPct < 0 {
		return fmt.Errorf("min_profit thresholds must be >= 0")
	}
	return nil
}

// minNet 返回实际生效的最低净利：MinNetProfitUSD 与 MinProfitPct 扣费后的净额取大。
func (c PositionConfig) minNet() decimal.Decimal {
	size, fee := money.FromFloat(c.PositionSizeUSD), money.FromFloat(c.FeeRate)
	byPct := money.NetFromGross(money.GrossFromPercent(money.FromFloat(c.MinProfitPct), size), size, fee)
	return decimal.Max(money.FromFloat(c.MinNetProfitUSD), byPct)
}

// MinMovePct 是净利达到最低要求所需的价格变动百分比。
func (c PositionConfig) MinMovePct() float64 {
	return money.Float(money.MinPercentForNet(c.minNet(), money.FromFloat(c.PositionSizeUSD), money.FromFloat(c.FeeRate)))
}

// TargetClearsMinimum 报告止盈目标本身是否足以覆盖最低净利。
// 不满足时仓位只能靠止盈（按毛利）或延长持有退出。
func (c PositionConfig) TargetClearsMinimum() bool {
	return c.TakeProfitPct >= c.MinMovePct()
}

// Reason 是终态退出原因。不存在止损类原因：止损触碰只会进入延长持有。
type Reason string

const (
	ReasonTakeProfit      Reason = "TAKE_PROFIT"
	ReasonSuperScalp      Reason = "SUPER_SCALP"
	ReasonTrailingStop    Reason = "TRAILING_STOP"
	ReasonBreakeven       Reason = "BREAKEVEN"
	ReasonTimeExit        Reason = "TIME_EXIT"
	ReasonMinProfitExit   Reason = "MIN_PROFIT_EXIT"
	ReasonOpportunityExit Reason = "OPPORTUNITY_EXIT"
	ReasonCancelled       Reason = "CANCELLED"
)

func (r Reason) String() string { return string(r) }

// Result 是一次监控的唯一终态输出。
type Result struct {
	ExitPrice      float64       `json:"exit_price"`
	IsWin          bool          `json:"is_win"`
	Reason         Reason        `json:"reason"`
	HoldDuration   time.Duration `json:"hold_duration"`
	MaxProfitPct   float64       `json:"max_profit_pct"`
	MinProfitPct   float64       `json:"min_profit_pct"`
	ProfitUSD      float64       `json:"profit_usd"`
	GrossProfitUSD float64       `json:"gross_profit_usd"`
	ExtendedHold   bool          `json:"extended_hold"`
}

// Cancelled 表示监控被外部放弃；此类结果不计入胜率统计。
func (r Result) Cancelled() bool { return r.Reason == ReasonCancelled }

// TickSnapshot 是每个有效 tick 推送给观察者的只读快照。
type TickSnapshot struct {
	Price        float64       `json:"price"`
	ProfitPct    float64       `json:"profit_pct"`
	ProfitUSD    float64       `json:"profit_usd"`
	GrossUSD     float64       `json:"gross_usd"`
	Elapsed      time.Duration `json:"elapsed"`
	MaxProfitPct float64       `json:"max_profit_pct"`
	StopPrice    float64       `json:"stop_price"`
	Extended     bool          `json:"extended"`
}

// Opportunity 是机会探针返回的替代交易。
type Opportunity struct {
	Pair           string  `json:"pair"`
	ExpectedProfit float64 `json:"expected_profit"`
	Confidence     float64 `json:"confidence"`
}

func (o Opportunity) String() string {
	return fmt.Sprintf("%s exp=%.4f conf=%.2f", strings.TrimSpace(o.Pair), o.ExpectedProfit, o.Confidence)
}
