package exit

import (
	"fmt"
	"time"
)

// SummaryLines 渲染一笔已结算持仓的摘要，供通知与日志使用。
func SummaryLines(cfg PositionConfig, res Result) []string {
	lines := []string{
		fmt.Sprintf("标的：%s %s", cfg.Symbol, cfg.Side),
		fmt.Sprintf("原因：%s", res.Reason),
		fmt.Sprintf("入场/出场：%.8f → %.8f", cfg.EntryPrice, res.ExitPrice),
		fmt.Sprintf("净利润：%.4f USD（毛利 %.4f）", res.ProfitUSD, res.GrossProfitUSD),
		fmt.Sprintf("持有：%s", res.HoldDuration.Round(time.Millisecond)),
		fmt.Sprintf("区间收益：max=%.4f%% min=%.4f%%", res.MaxProfitPct, res.MinProfitPct),
	}
	if res.ExtendedHold {
		lines = append(lines, "经历延长持有")
	}
	return lines
}

// Title 返回结果的一行标题。
func (r Result) Title() string {
	switch {
	case r.Cancelled():
		return "监控已取消"
	case r.Reason == ReasonOpportunityExit:
		return "保本释放资金"
	default:
		return "持仓已平仓"
	}
}
