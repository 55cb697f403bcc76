package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"scalpguard/internal/logger"
)

// Async 用单个后台协程串行推送，队列满时丢弃，保证结算路径永不因推送阻塞。
type Async struct {
	next    TextNotifier
	queue   chan string
	timeout time.Duration

	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
}

func NewAsync(next TextNotifier, size int, timeout time.Duration) *Async {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Async{next: next, queue: make(chan string, size), timeout: timeout, done: make(chan struct{})}
}

func (a *Async) SendText(_ context.Context, text string) error {
	select {
	case a.queue <- text:
	default:
		a.dropped.Add(1)
		logger.Warnf("notifier: queue full, message dropped")
	}
	return nil
}

// Send 渲染并入队一条结构化消息。
func (a *Async) Send(msg StructuredMessage) {
	_ = a.SendText(context.Background(), msg.RenderMarkdown())
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Run 消费队列直到 ctx 结束；退出前尽量发完已排队的消息。
func (a *Async) Run(ctx context.Context) error {
	defer a.once.Do(func() { close(a.done) })
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return nil
		case text := <-a.queue:
			a.deliver(context.Background(), text)
		}
	}
}

func (a *Async) Done() <-chan struct{} { return a.done }

func (a *Async) drain() {
	for {
		select {
		case text := <-a.queue:
			a.deliver(context.Background(), text)
		default:
			return
		}
	}
}

func (a *Async) deliver(parent context.Context, text string) {
	ctx, cancel := context.WithTimeout(parent, a.timeout)
	defer cancel()
	if err := a.next.SendText(ctx, text); err != nil {
		logger.Warnf("notifier: send failed: %v", err)
	}
}
