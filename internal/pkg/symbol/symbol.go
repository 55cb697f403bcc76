// Package symbol 把各种写法的交易对统一成 "BTCUSDT" 形式。
package symbol

import (
	"slices"
	"strings"
)

// knownQuotes 按优先级排列，用于拆分无分隔符的写法。
var knownQuotes = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Valid() bool { return s.Base != "" && s.Quote != "" }

// String 返回规范写法（BASE+QUOTE），无效时为空串。
func (s Symbol) String() string {
	if !s.Valid() {
		return ""
	}
	return s.Base + s.Quote
}

// Parse 识别 "btc/usdt"、"BTC/USDT:USDT"、"btc-usdt"、"BTC_USDT" 与 "BTCUSDT"。
func Parse(raw string) Symbol {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s, _, _ = strings.Cut(s, ":") // 合约后缀
	if s == "" {
		return Symbol{}
	}
	if i := strings.IndexAny(s, "/-_"); i >= 0 {
		return Symbol{Base: strings.TrimSpace(s[:i]), Quote: strings.TrimSpace(s[i+1:])}
	}
	for _, q := range knownQuotes {
		if base, ok := strings.CutSuffix(s, q); ok && base != "" {
			return Symbol{Base: base, Quote: q}
		}
	}
	return Symbol{}
}

// Normalize 返回规范写法；无法识别报价币时退回去空格的大写原文。
func Normalize(raw string) string {
	if sym := Parse(raw); sym.Valid() {
		return sym.String()
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

// NormalizeList 规范化并去重，保持首次出现的顺序。
func NormalizeList(raw []string) []string {
	var out []string
	for _, s := range raw {
		if norm := Normalize(s); norm != "" && !slices.Contains(out, norm) {
			out = append(out, norm)
		}
	}
	return out
}

func IsValid(raw string) bool { return Parse(raw).Valid() }
