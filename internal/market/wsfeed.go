package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"scalpguard/internal/logger"
)

// WSFeed 是通用 JSON 行情 websocket 客户端：连接后发送一次订阅消息，
// 之后每条消息是单个 TickEvent 或 TickEvent 数组。断线后指数退避重连。
type WSFeed struct {
	Name         string
	URL          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	reconnects int
	messages   atomic.Int64
	dropped    atomic.Int64
	lastErr    string
}

func NewWSFeed(name, url string) *WSFeed {
	return &WSFeed{
		Name:         name,
		URL:          url,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		MinBackoff:   500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
	}
}

type subscribeMessage struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

func (f *WSFeed) SubscribeTrades(ctx context.Context, symbols []string, opts SubscribeOptions) (<-chan TickEvent, error) {
	if strings.TrimSpace(f.URL) == "" {
		return nil, fmt.Errorf("ws feed %s: url is empty", f.Name)
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if s = normalizeSymbol(s); s != "" {
			want[s] = true
		}
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	conn, err := f.dial(ctx, symbols)
	if err != nil {
		return nil, err
	}
	if opts.OnConnect != nil {
		opts.OnConnect()
	}
	out := make(chan TickEvent, buffer)
	go f.run(ctx, conn, symbols, want, out, opts)
	return out, nil
}

func (f *WSFeed) dial(ctx context.Context, symbols []string) (*websocket.Conn, error) {
	logger.Infof("[%s] connecting to %s", f.Name, f.URL)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("ws feed %s dial: %w", f.Name, err)
	}
	if len(symbols) > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(f.WriteTimeout))
		if err := conn.WriteJSON(subscribeMessage{Op: "subscribe", Symbols: symbols}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ws feed %s subscribe: %w", f.Name, err)
		}
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("ws feed %s closed", f.Name)
	}
	f.conn = conn
	f.mu.Unlock()
	return conn, nil
}

func (f *WSFeed) run(ctx context.Context, conn *websocket.Conn, symbols []string, want map[string]bool, out chan<- TickEvent, opts SubscribeOptions) {
	defer close(out)
	stop := context.AfterFunc(ctx, func() { f.closeConn() })
	defer stop()

	backoff := f.MinBackoff
	for {
		err := f.readLoop(ctx, conn, want, out)
		if ctx.Err() != nil || f.isClosed() {
			return
		}
		f.noteError(err)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(err)
		}
		logger.Warnf("[%s] disconnected: %v, reconnecting in %s", f.Name, err, backoff)
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, f.MaxBackoff)
			next, derr := f.dial(ctx, symbols)
			if derr == nil {
				conn = next
				f.mu.Lock()
				f.reconnects++
				f.mu.Unlock()
				backoff = f.MinBackoff
				if opts.OnConnect != nil {
					opts.OnConnect()
				}
				break
			}
			if f.isClosed() {
				return
			}
			f.noteError(derr)
		}
	}
}

func (f *WSFeed) readLoop(ctx context.Context, conn *websocket.Conn, want map[string]bool, out chan<- TickEvent) error {
	defer f.release(conn)
	_ = conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		events, err := decodeTicks(msg)
		if err != nil {
			f.dropped.Add(1)
			logger.Debugf("[%s] undecodable message: %v", f.Name, err)
			continue
		}
		for _, evt := range events {
			evt.Symbol = normalizeSymbol(evt.Symbol)
			if len(want) > 0 && !want[evt.Symbol] {
				continue
			}
			f.messages.Add(1)
			select {
			case out <- evt:
			case <-ctx.Done():
				return ctx.Err()
			default:
				f.dropped.Add(1)
			}
		}
	}
}

func decodeTicks(msg []byte) ([]TickEvent, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if msg[0] == '[' {
		var batch []TickEvent
		if err := json.Unmarshal(msg, &batch); err != nil {
			return nil, err
		}
		return batch, nil
	}
	var one TickEvent
	if err := json.Unmarshal(msg, &one); err != nil {
		return nil, err
	}
	if one.Symbol == "" {
		return nil, fmt.Errorf("message without symbol")
	}
	return []TickEvent{one}, nil
}

func (f *WSFeed) noteError(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	f.lastErr = err.Error()
	f.mu.Unlock()
}

func (f *WSFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *WSFeed) closeConn() {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// release 关闭读循环持有的连接，并在它仍是当前连接时清空引用。
func (f *WSFeed) release(conn *websocket.Conn) {
	f.mu.Lock()
	if f.conn == conn {
		f.conn = nil
	}
	f.mu.Unlock()
	_ = conn.Close()
}

func (f *WSFeed) Stats() SourceStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return SourceStats{
		Reconnects: f.reconnects,
		Messages:   f.messages.Load(),
		Dropped:    f.dropped.Load(),
		LastError:  f.lastErr,
	}
}

func (f *WSFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
