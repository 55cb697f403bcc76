package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scalpguard/internal/logger"
)

// TickUpdater 把 TickSource 的推送写入 PriceBook。
type TickUpdater struct {
	Book   *PriceBook
	Source TickSource

	OnConnected    func()
	OnDisconnected func(error)

	OnEvent func(TickEvent)

	startOnce sync.Once
	done      chan struct{}
}

type TickUpdaterOption func(*TickUpdater)

func WithWSCallbacks(onConnect func(), onDisconnect func(error)) TickUpdaterOption {
	return func(u *TickUpdater) {
		u.OnConnected = onConnect
		u.OnDisconnected = onDisconnect
	}
}

func WithWSEventHandler(handler func(TickEvent)) TickUpdaterOption {
	return func(u *TickUpdater) {
		u.OnEvent = handler
	}
}

func NewTickUpdater(book *PriceBook, src TickSource, opts ...TickUpdaterOption) *TickUpdater {
	u := &TickUpdater{Book: book, Source: src, done: make(chan struct{})}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u
}

// Start 订阅行情并在后台消费，直到 ctx 结束或 source 关闭 channel。
func (u *TickUpdater) Start(ctx context.Context, symbols []string) error {
	if u.Source == nil || u.Book == nil {
		return fmt.Errorf("tick updater missing source or price book")
	}
	opts := SubscribeOptions{
		OnConnect:    u.OnConnected,
		OnDisconnect: u.OnDisconnected,
	}
	events, err := u.Source.SubscribeTrades(ctx, symbols, opts)
	if err != nil {
		return err
	}
	u.startOnce.Do(func() {
		go u.consume(ctx, events)
	})
	logger.Infof("[WS] 行情订阅已启动 symbols=%v", symbols)
	return nil
}

// Done 在消费协程退出后关闭。
func (u *TickUpdater) Done() <-chan struct{} { return u.done }

func (u *TickUpdater) consume(ctx context.Context, events <-chan TickEvent) {
	defer close(u.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			var at time.Time
			if evt.EventTime > 0 {
				at = time.UnixMilli(evt.EventTime)
			}
			if !u.Book.Publish(evt.Symbol, evt.Price, at) {
				logger.Debugf("[WS] 丢弃报价 %s price=%v ts=%d", evt.Symbol, evt.Price, evt.EventTime)
			}
			if u.OnEvent != nil {
				u.OnEvent(evt)
			}
		}
	}
}

func (u *TickUpdater) Stats() SourceStats {
	if u.Source == nil {
		return SourceStats{}
	}
	return u.Source.Stats()
}

func (u *TickUpdater) Close() {
	if u.Source != nil {
		if err := u.Source.Close(); err != nil {
			logger.Warnf("[WS] source close error: %v", err)
		}
	}
}
