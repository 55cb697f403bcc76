package market

import "context"

// TickEvent 是一笔成交或报价更新；EventTime 为毫秒时间戳，0 表示由接收方打点。
type TickEvent struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity,omitempty"`
	EventTime int64   `json:"ts,omitempty"`
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects int
	Messages   int64
	Dropped    int64
	LastError  string
}

// TickSource 推送实时价格；返回的 channel 在 ctx 结束后关闭。
type TickSource interface {
	SubscribeTrades(ctx context.Context, symbols []string, opts SubscribeOptions) (<-chan TickEvent, error)

	Stats() SourceStats

	Close() error
}
