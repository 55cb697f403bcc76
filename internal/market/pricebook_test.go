package market

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceBookPublishAndLatest(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	book := NewPriceBook(2*time.Second, WithPriceClock(func() time.Time { return now }))

	assert.True(t, book.Publish(" btcusdt ", 100.5, time.Time{}))
	q, ok := book.Latest("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 100.5, q.Price)
	assert.Equal(t, "BTCUSDT", q.Symbol)
	_, ok = book.Latest("BTC/USDT:USDT")
	assert.True(t, ok, "exchange-style pair names resolve to the same quote")

	assert.False(t, book.Publish("BTCUSDT", 0, now))
	assert.False(t, book.Publish("BTCUSDT", -1, now))
	assert.False(t, book.Publish("BTCUSDT", math.NaN(), now))
	assert.False(t, book.Publish("", 1, now))
	assert.False(t, book.Publish("BTCUSDT", 99, now.Add(-time.Second)), "older quote must not overwrite")

	now = now.Add(3 * time.Second)
	_, ok = book.Latest("BTCUSDT")
	assert.False(t, ok, "stale quote")
	assert.Len(t, book.Quotes(), 1)
}

func TestPriceBookSampler(t *testing.T) {
	book := NewPriceBook(0)
	sampler := book.Sampler("ethusdt")

	_, ok := sampler.Sample()
	assert.False(t, ok)

	book.Publish("ETHUSDT", 2500, time.Now())
	p, ok := sampler.Sample()
	require.True(t, ok)
	assert.Equal(t, 2500.0, p)
}

func TestPriceBookConcurrentAccess(t *testing.T) {
	book := NewPriceBook(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				book.Publish("BTCUSDT", float64(100+j), time.Now())
				book.Latest("BTCUSDT")
			}
		}(i)
	}
	wg.Wait()
	_, ok := book.Latest("BTCUSDT")
	assert.True(t, ok)
}

type chanSource struct {
	ch     chan TickEvent
	closed bool
}

func (s *chanSource) SubscribeTrades(ctx context.Context, symbols []string, opts SubscribeOptions) (<-chan TickEvent, error) {
	return s.ch, nil
}

func (s *chanSource) Stats() SourceStats { return SourceStats{Messages: 1} }

func (s *chanSource) Close() error {
	s.closed = true
	return nil
}

func TestTickUpdaterFeedsBook(t *testing.T) {
	book := NewPriceBook(0)
	src := &chanSource{ch: make(chan TickEvent, 4)}
	var seen []TickEvent
	u := NewTickUpdater(book, src, WithWSEventHandler(func(e TickEvent) { seen = append(seen, e) }))

	require.NoError(t, u.Start(context.Background(), []string{"BTCUSDT"}))
	src.ch <- TickEvent{Symbol: "btcusdt", Price: 101, EventTime: time.Now().UnixMilli()}
	src.ch <- TickEvent{Symbol: "BTCUSDT", Price: 0}
	close(src.ch)

	select {
	case <-u.Done():
	case <-time.After(time.Second):
		t.Fatal("updater did not stop after source closed")
	}
	q, ok := book.Latest("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 101.0, q.Price)
	assert.Len(t, seen, 2)

	u.Close()
	assert.True(t, src.closed)
	assert.Equal(t, int64(1), u.Stats().Messages)
}

func TestTickUpdaterRequiresSource(t *testing.T) {
	u := NewTickUpdater(NewPriceBook(0), nil)
	assert.Error(t, u.Start(context.Background(), nil))
}
