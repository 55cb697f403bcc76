package notifier

import "context"

// TextNotifier 是最小的文本推送接口，调用方无需依赖 Telegram 等具体实现。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Nop 丢弃所有消息，用于未启用推送时。
type Nop struct{}

func (Nop) SendText(context.Context, string) error { return nil }
