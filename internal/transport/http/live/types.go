package livehttp

import (
	"context"
	"time"

	"scalpguard/internal/exitplan"
	"scalpguard/internal/governor"
	"scalpguard/internal/market"
	"scalpguard/internal/store"
	"scalpguard/internal/strategy/exit"
	"scalpguard/internal/trader"
)

// GovernorAPI 由 *governor.Governor 实现。
type GovernorAPI interface {
	Stats() governor.Stats
	CanTrade() governor.Decision
	IsSessionHalted() governor.HaltStatus
	HaltSession(reason string)
	Reset()
}

// PositionAPI 由 *trader.Runner 实现。
type PositionAPI interface {
	Open(ctx context.Context, req trader.OpenRequest) (trader.PositionView, error)
	Close(ctx context.Context, id string) (exit.Result, error)
	Positions() []trader.PositionView
}

// PriceAPI 由 *market.PriceBook 实现。
type PriceAPI interface {
	Publish(symbol string, price float64, at time.Time) bool
	Quotes() []market.Quote
}

// ProfileAPI 由 *exitplan.Registry 实现。
type ProfileAPI interface {
	Snapshot() exitplan.Snapshot
}

// HistoryAPI 由 gormstore 实现。
type HistoryAPI interface {
	store.OutcomeRepository
	store.GovernorEventRepository
}

type haltRequest struct {
	Reason string `json:"reason"`
}

type priceRequest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	// TsMs 为 0 时使用服务器当前时间。
	TsMs int64 `json:"ts"`
}
