package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"scalpguard/internal/gateway/notifier"
	"scalpguard/internal/governor"
	"scalpguard/internal/logger"
	"scalpguard/internal/store"
	"scalpguard/internal/store/model"
	"scalpguard/internal/trader"
)

// eventSink 把风控状态切换异步落库并推送；Listener 只做非阻塞入队。
type eventSink struct {
	repo    store.GovernorEventRepository
	notify  trader.Notifier
	queue   chan governor.Event
	dropped atomic.Int64
}

func newEventSink(repo store.GovernorEventRepository, n trader.Notifier, size int) *eventSink {
	if size <= 0 {
		size = 64
	}
	return &eventSink{repo: repo, notify: n, queue: make(chan governor.Event, size)}
}

// Listener 供 governor.WithListener 使用。
func (s *eventSink) Listener() governor.Listener {
	return func(ev governor.Event) {
		select {
		case s.queue <- ev:
		default:
			s.dropped.Add(1)
			logger.Warnf("governor event dropped kind=%s", ev.Kind)
		}
	}
}

func (s *eventSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.queue:
					s.handle(ev)
				default:
					return nil
				}
			}
		case ev := <-s.queue:
			s.handle(ev)
		}
	}
}

func (s *eventSink) handle(ev governor.Event) {
	if s.repo != nil {
		rec := &model.GovernorEventModel{Kind: string(ev.Kind), Reason: ev.Reason, CreatedAt: ev.At}
		if !ev.Until.IsZero() {
			until := ev.Until
			rec.Until = &until
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.InsertGovernorEvent(ctx, rec); err != nil {
			logger.Errorf("persist governor event %s: %v", ev.Kind, err)
		}
		cancel()
	}
	if s.notify != nil {
		s.notify.Send(eventMessage(ev))
	}
}

func eventMessage(ev governor.Event) notifier.StructuredMessage {
	msg := notifier.StructuredMessage{Timestamp: ev.At}
	switch ev.Kind {
	case governor.EventHalted, governor.EventHaltExtended:
		msg.Icon, msg.Title = "🛑", "交易会话熔断"
	case governor.EventResumed:
		msg.Icon, msg.Title = "🟢", "交易会话恢复"
	case governor.EventPaused:
		msg.Icon, msg.Title = "⏸", "交易暂停"
	default:
		msg.Icon, msg.Title = "🔄", "风控已重置"
	}
	lines := []string{notifier.KV("事件", "%s", ev.Kind)}
	if ev.Reason != "" {
		lines = append(lines, notifier.KV("原因", "%s", ev.Reason))
	}
	if !ev.Until.IsZero() {
		lines = append(lines, notifier.KV("截止", "%s", ev.Until.Format(time.RFC3339)))
	}
	msg.AddSection(fmt.Sprintf("风控 %s", ev.Kind), lines...)
	return msg
}
