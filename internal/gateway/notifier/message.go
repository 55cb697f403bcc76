package notifier

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Telegram 单条消息上限 4096，留出余量给 Markdown 标记。
const maxMessageBytes = 3800

const timestampLayout = "2006-01-02 15:04:05 MST"

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 是持仓结算与风控事件共用的推送格式。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Timestamp time.Time
}

// AddSection 追加一个段落；全空的段落在渲染时被跳过。
func (m *StructuredMessage) AddSection(title string, lines ...string) {
	m.Sections = append(m.Sections, MessageSection{Title: title, Lines: lines})
}

// KV 生成 "key: value" 行。
func KV(key string, format string, args ...any) string {
	return key + ": " + fmt.Sprintf(format, args...)
}

// RenderMarkdown 渲染为 Telegram Markdown：标题一行，段落放进代码块，末尾附时间。
func (m StructuredMessage) RenderMarkdown() string {
	parts := make([]string, 0, 3)
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		parts = append(parts, header)
	}
	if body := m.renderBody(); body != "" {
		parts = append(parts, "```\n"+body+"```")
	}
	if !m.Timestamp.IsZero() {
		parts = append(parts, "时间："+m.Timestamp.Format(timestampLayout))
	}
	return truncate(strings.Join(parts, "\n\n"), maxMessageBytes)
}

func (m StructuredMessage) renderBody() string {
	var blocks []string
	for _, sec := range m.Sections {
		var b strings.Builder
		for _, line := range sec.Lines {
			if line = strings.TrimSpace(line); line != "" {
				b.WriteString("- " + escapeFence(line) + "\n")
			}
		}
		if b.Len() == 0 {
			continue
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			blocks = append(blocks, escapeFence(title)+"\n"+b.String())
			continue
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n")
}

// escapeFence 防止内容里的 ``` 提前闭合代码块。
func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

// truncate 按字节上限截断且不切断 UTF-8 字符。
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
