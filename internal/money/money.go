// Package money 提供手续费感知的盈亏换算，全部基于 decimal 计算，避免逐 tick 的浮点累积误差。
package money

import (
	"math"

	"github.com/shopspring/decimal"

	"scalpguard/internal/pkg/trading"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
	one     = decimal.NewFromInt(1)
)

// FromFloat 将 float64 转为 decimal；NaN/Inf 视为 0。
func FromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

// Float 将 decimal 转回 float64（仅用于对外边界）。
func Float(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// ProfitPercent 返回方向归一化的收益百分比：多头 (cur-entry)/entry，空头取反。
func ProfitPercent(side trading.Side, entry, current decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() || !current.IsPositive() {
		return decimal.Zero
	}
	diff := current.Sub(entry)
	if side == trading.Short {
		diff = diff.Neg()
	}
	return diff.Div(entry).Mul(hundred)
}

// GrossFromPercent 将收益百分比换算为美元毛利：(pct/100)*size。
func GrossFromPercent(pct, size decimal.Decimal) decimal.Decimal {
	return pct.Div(hundred).Mul(size)
}

// RoundTripFees 往返手续费：size*feeRate*2。
func RoundTripFees(size, feeRate decimal.Decimal) decimal.Decimal {
	return size.Mul(feeRate).Mul(two)
}

// NetFromGross 扣除往返手续费后的净利润。
func NetFromGross(gross, size, feeRate decimal.Decimal) decimal.Decimal {
	return gross.Sub(RoundTripFees(size, feeRate))
}

// TargetNet 止盈目标对应的净利润：(tpPct/100)*size - fees。
func TargetNet(tpPct, size, feeRate decimal.Decimal) decimal.Decimal {
	return NetFromGross(GrossFromPercent(tpPct, size), size, feeRate)
}

// MinGrossForNet 达到 targetNet 所需的最低毛利。
func MinGrossForNet(targetNet, size, feeRate decimal.Decimal) decimal.Decimal {
	return targetNet.Add(RoundTripFees(size, feeRate))
}

// MinPercentForNet 达到 targetNet 所需的最低价格变动百分比；size<=0 返回 0。
func MinPercentForNet(targetNet, size, feeRate decimal.Decimal) decimal.Decimal {
	if !size.IsPositive() {
		return decimal.Zero
	}
	return MinGrossForNet(targetNet, size, feeRate).Div(size).Mul(hundred)
}

// PriceAtPercent 返回在盈利方向上实现 pct 的价格；pct 为负时得到止损位。
func PriceAtPercent(side trading.Side, entry, pct decimal.Decimal) decimal.Decimal {
	if !entry.IsPositive() {
		return decimal.Zero
	}
	move := pct.Div(hundred)
	if side == trading.Short {
		return entry.Mul(one.Sub(move))
	}
	return entry.Mul(one.Add(move))
}

// NonNegative 返回 max(0, d)。
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Reached 判断价格是否已越过盈利方向的目标位（多头 >=，空头 <=）。
func Reached(side trading.Side, price, level decimal.Decimal) bool {
	if !price.IsPositive() || !level.IsPositive() {
		return false
	}
	if side == trading.Short {
		return price.LessThanOrEqual(level)
	}
	return price.GreaterThanOrEqual(level)
}

// Breached 判断价格是否触及不利方向的止损位（多头 <=，空头 >=）。
func Breached(side trading.Side, price, level decimal.Decimal) bool {
	if !price.IsPositive() || !level.IsPositive() {
		return false
	}
	if side == trading.Short {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

// MoreFavorable 判断 candidate 止损位是否比 current 更靠近盈利方向。
func MoreFavorable(side trading.Side, candidate, current decimal.Decimal) bool {
	if !candidate.IsPositive() {
		return false
	}
	if !current.IsPositive() {
		return true
	}
	if side == trading.Short {
		return candidate.LessThan(current)
	}
	return candidate.GreaterThan(current)
}
