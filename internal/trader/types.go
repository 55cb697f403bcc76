package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scalpguard/internal/gateway/notifier"
	"scalpguard/internal/governor"
	"scalpguard/internal/market"
	"scalpguard/internal/strategy/exit"
)

var (
	ErrTradingDenied   = errors.New("trading denied by session governor")
	ErrNoPrice         = errors.New("no price available")
	ErrUnknownPosition = errors.New("unknown position")
	ErrInvalidRequest  = errors.New("invalid open request")
	ErrStopped         = errors.New("runner stopped")
)

// DeniedError 携带风控拒绝时的完整判定，errors.Is(err, ErrTradingDenied) 成立。
type DeniedError struct {
	Decision governor.Decision
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTradingDenied, e.Decision.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrTradingDenied }

// OpenRequest 描述一次开仓请求。EntryPrice 为 0 时取价格簿最新价。
type OpenRequest struct {
	Symbol     string         `json:"symbol"`
	Side       string         `json:"side"`
	Profile    string         `json:"profile,omitempty"`
	EntryPrice float64        `json:"entry_price,omitempty"`
	Overrides  map[string]any `json:"overrides,omitempty"`
}

// PositionView 是对外展示的持仓状态。
type PositionView struct {
	ID       string              `json:"id"`
	Symbol   string              `json:"symbol"`
	Side     string              `json:"side"`
	Profile  string              `json:"profile,omitempty"`
	Config   exit.PositionConfig `json:"config"`
	OpenedAt time.Time           `json:"opened_at"`
	Last     *exit.TickSnapshot  `json:"last,omitempty"`
}

// ClosedPosition 是一次监控结束后的完整记录。
type ClosedPosition struct {
	PositionView
	Result exit.Result `json:"result"`
}

// Gate 是开仓前检查与结算回写的风控接口，*governor.Governor 实现它。
type Gate interface {
	CanTrade() governor.Decision
	RecordTrade(isWin bool, pnl float64)
	RecordError()
	RecordSuccess()
}

// ProfileResolver 把 profile 与请求覆盖项解析为完整的持仓配置，*exitplan.Registry 实现它。
type ProfileResolver interface {
	ResolveWithOverrides(id string, base exit.PositionConfig, overrides map[string]any) (exit.PositionConfig, error)
}

// PriceSource 提供开仓价与监控采样，*market.PriceBook 实现它。
type PriceSource interface {
	Latest(symbol string) (market.Quote, bool)
	Sampler(symbol string) exit.PriceSampler
}

// Notifier 接收结构化推送，*notifier.Async 实现它。
type Notifier interface {
	Send(msg notifier.StructuredMessage)
}

// ProbeFactory 为每个持仓构造机会探针；返回 nil 表示不探测。
type ProbeFactory func(cfg exit.PositionConfig) exit.OpportunityProbe

type monitorHandle struct {
	view   PositionView
	cancel context.CancelFunc
	done   chan struct{}
	result exit.Result
}
