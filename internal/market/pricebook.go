package market

import (
	"math"
	"sort"
	"sync"
	"time"

	"scalpguard/internal/pkg/symbol"
	"scalpguard/internal/strategy/exit"
)

// Quote 是某个交易对的最新报价。
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}

// PriceBook 保存每个交易对的最新价格，供各持仓的 sampler 非阻塞读取。
type PriceBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	maxAge time.Duration
	nowFn  func() time.Time
}

type PriceBookOption func(*PriceBook)

func WithPriceClock(now func() time.Time) PriceBookOption {
	return func(b *PriceBook) {
		if now != nil {
			b.nowFn = now
		}
	}
}

// NewPriceBook 创建价格簿；maxAge<=0 表示报价永不过期。
func NewPriceBook(maxAge time.Duration, opts ...PriceBookOption) *PriceBook {
	b := &PriceBook{
		quotes: make(map[string]Quote),
		maxAge: maxAge,
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func normalizeSymbol(s string) string {
	return symbol.Normalize(s)
}

// Publish 写入报价；非正数、NaN 或早于现有报价的更新会被忽略。
func (b *PriceBook) Publish(symbol string, price float64, at time.Time) bool {
	symbol = normalizeSymbol(symbol)
	if symbol == "" || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return false
	}
	if at.IsZero() {
		at = b.nowFn()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.quotes[symbol]; ok && at.Before(prev.At) {
		return false
	}
	b.quotes[symbol] = Quote{Symbol: symbol, Price: price, At: at}
	return true
}

// Latest 返回未过期的最新报价。
func (b *PriceBook) Latest(symbol string) (Quote, bool) {
	b.mu.RLock()
	q, ok := b.quotes[normalizeSymbol(symbol)]
	b.mu.RUnlock()
	if !ok {
		return Quote{}, false
	}
	if b.maxAge > 0 && b.nowFn().Sub(q.At) > b.maxAge {
		return Quote{}, false
	}
	return q, true
}

// Quotes 返回全部报价（含过期的），按交易对排序。
func (b *PriceBook) Quotes() []Quote {
	b.mu.RLock()
	out := make([]Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		out = append(out, q)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Sampler 把价格簿适配为退出引擎的价格采样器；缺失或过期即"暂无样本"。
func (b *PriceBook) Sampler(symbol string) exit.PriceSampler {
	symbol = normalizeSymbol(symbol)
	return exit.SamplerFunc(func() (float64, bool) {
		q, ok := b.Latest(symbol)
		if !ok {
			return 0, false
		}
		return q.Price, true
	})
}
