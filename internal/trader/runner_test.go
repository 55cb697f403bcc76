package trader

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"scalpguard/internal/exitplan"
	"scalpguard/internal/gateway/notifier"
	"scalpguard/internal/governor"
	"scalpguard/internal/market"
	"scalpguard/internal/pkg/trading"
	"scalpguard/internal/store/gormstore"
	"scalpguard/internal/strategy/exit"
)

type MockGate struct {
	mock.Mock
}

func (m *MockGate) CanTrade() governor.Decision {
	args := m.Called()
	return args.Get(0).(governor.Decision)
}

func (m *MockGate) RecordTrade(isWin bool, pnl float64) { m.Called(isWin, pnl) }
func (m *MockGate) RecordError()                        { m.Called() }
func (m *MockGate) RecordSuccess()                      { m.Called() }

type sentMessages struct {
	mu   sync.Mutex
	msgs []notifier.StructuredMessage
}

func (s *sentMessages) Send(msg notifier.StructuredMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *sentMessages) all() []notifier.StructuredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifier.StructuredMessage(nil), s.msgs...)
}

func defaultPosition() exit.PositionConfig {
	return exit.PositionConfig{
		TakeProfitPct:   0.3,
		StopLossPct:     0.15,
		MaxHold:         30 * time.Second,
		TrailingEnabled: true,
		MinProfitUSD:    0.1,
		PositionSizeUSD: 1000,
		FeeRate:         0.001,
		MinNetProfitUSD: 0.25,
	}
}

func fastEngine() *exit.Engine {
	opts := exit.DefaultOptions()
	opts.TickInterval = time.Millisecond
	return exit.NewEngine(opts)
}

func allow() governor.Decision {
	return governor.Decision{CanTrade: true, Reason: "ok", CurrentHitRate: 100, RequiredMinimum: 50}
}

// newTestRunner 返回 runner 以及接收已结束持仓的 channel。
func newTestRunner(t *testing.T, gate Gate, book *market.PriceBook, opts ...RunnerOption) (*Runner, <-chan ClosedPosition) {
	t.Helper()
	closed := make(chan ClosedPosition, 8)
	opts = append(opts, WithClosedHook(func(c ClosedPosition) { closed <- c }))
	r := NewRunner(fastEngine(), gate, exitplan.Empty(), book, defaultPosition(), opts...)
	t.Cleanup(r.Shutdown)
	return r, closed
}

func waitClosed(t *testing.T, ch <-chan ClosedPosition) ClosedPosition {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("position did not close in time")
		return ClosedPosition{}
	}
}

func TestOpenDeniedByGovernor(t *testing.T) {
	gate := new(MockGate)
	gate.On("CanTrade").Return(governor.Decision{
		CanTrade:         false,
		Reason:           "hit rate 40.0% below 50% minimum",
		CurrentHitRate:   40,
		RequiredMinimum:  50,
		IsPaused:         true,
		AnalysisRequired: true,
	})
	book := market.NewPriceBook(time.Minute)
	book.Publish("BTCUSDT", 100, time.Now())
	r, _ := newTestRunner(t, gate, book)

	_, err := r.Open(context.Background(), OpenRequest{Symbol: "btcusdt", Side: "long"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTradingDenied))
	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.True(t, denied.Decision.AnalysisRequired)
	assert.Contains(t, err.Error(), "50% minimum")
	gate.AssertNotCalled(t, "RecordSuccess")
	assert.Empty(t, r.Positions())
}

func TestOpenWithoutPriceRecordsError(t *testing.T) {
	gate := new(MockGate)
	gate.On("CanTrade").Return(allow())
	gate.On("RecordError").Return().Once()
	r, _ := newTestRunner(t, gate, market.NewPriceBook(time.Minute))

	_, err := r.Open(context.Background(), OpenRequest{Symbol: "ETHUSDT", Side: "short"})
	assert.ErrorIs(t, err, ErrNoPrice)
	gate.AssertExpectations(t)
}

func TestOpenRejectsInvalidRequests(t *testing.T) {
	gate := new(MockGate)
	gate.On("CanTrade").Return(allow())
	book := market.NewPriceBook(time.Minute)
	book.Publish("BTCUSDT", 100, time.Now())
	r, _ := newTestRunner(t, gate, book)

	_, err := r.Open(context.Background(), OpenRequest{Symbol: "", Side: "long"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = r.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "flat"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = r.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long", Profile: "missing"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = r.Open(context.Background(), OpenRequest{
		Symbol:    "BTCUSDT",
		Side:      "long",
		Overrides: map[string]any{"take_profit_pct": -1},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	gate.AssertNotCalled(t, "RecordSuccess")
}

func TestTakeProfitIsRecordedPersistedAndNotified(t *testing.T) {
	gate := new(MockGate)
	gate.On("CanTrade").Return(allow())
	gate.On("RecordSuccess").Return().Once()
	gate.On("RecordTrade", true, mock.AnythingOfType("float64")).Return().Once()

	st, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	sent := &sentMessages{}

	book := market.NewPriceBook(time.Minute)
	book.Publish("BTCUSDT", 100, time.Now())
	r, closed := newTestRunner(t, gate, book, WithOutcomeStore(st), WithNotifier(sent))

	view, err := r.Open(context.Background(), OpenRequest{
		Symbol:    "BTCUSDT",
		Side:      "buy",
		Overrides: map[string]any{"take_profit_pct": "0.4"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "long", view.Side)
	assert.Equal(t, 100.0, view.Config.EntryPrice)
	assert.Equal(t, 0.4, view.Config.TakeProfitPct)
	assert.Equal(t, trading.Long, view.Config.Side)

	require.Eventually(t, func() bool {
		ps := r.Positions()
		return len(ps) == 1 && ps[0].Last != nil
	}, 2*time.Second, 2*time.Millisecond)

	book.Publish("BTCUSDT", 100.5, time.Now())
	c := waitClosed(t, closed)

	assert.Equal(t, view.ID, c.ID)
	assert.Equal(t, exit.ReasonTakeProfit, c.Result.Reason)
	assert.True(t, c.Result.IsWin)
	assert.InDelta(t, 5.0, c.Result.ProfitUSD, 1e-9)
	gate.AssertExpectations(t)
	assert.Empty(t, r.Positions())

	rows, err := st.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, view.ID, rows[0].PositionID)
	assert.Equal(t, "TAKE_PROFIT", rows[0].Reason)
	assert.Equal(t, 100.5, rows[0].ExitPrice)
	assert.Contains(t, string(rows[0].PositionConfig), `"take_profit_pct":0.4`)

	msgs := sent.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "✅", msgs[0].Icon)
	assert.Contains(t, msgs[0].RenderMarkdown(), view.ID)
}

func TestCloseCancelsWithoutRecording(t *testing.T) {
	gate := new(MockGate)
	gate.On("CanTrade").Return(allow())
	gate.On("RecordSuccess").Return()
	book := market.NewPriceBook(time.Minute)
	book.Publish("SOLUSDT", 20, time.Now())
	r, closed := newTestRunner(t, gate, book)

	view, err := r.Open(context.Background(), OpenRequest{Symbol: "SOLUSDT", Side: "short"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := r.Close(ctx, view.ID)
	require.NoError(t, err)
	assert.True(t, res.Cancelled())
	assert.Zero(t, res.ProfitUSD)
	waitClosed(t, closed)
	gate.AssertNotCalled(t, "RecordTrade", mock.Anything, mock.Anything)

	_, err = r.Close(ctx, view.ID)
	assert.ErrorIs(t, err, ErrUnknownPosition)
}

func TestShutdownCancelsEveryMonitor(t *testing.T) {
	gate := new(MockGate)
	gate.On("CanTrade").Return(allow())
	gate.On("RecordSuccess").Return()
	book := market.NewPriceBook(time.Minute)
	book.Publish("BTCUSDT", 100, time.Now())
	book.Publish("ETHUSDT", 10, time.Now())
	r, closed := newTestRunner(t, gate, book)

	_, err := r.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long"})
	require.NoError(t, err)
	_, err = r.Open(context.Background(), OpenRequest{Symbol: "ETHUSDT", Side: "short", EntryPrice: 10.2})
	require.NoError(t, err)
	assert.Len(t, r.Positions(), 2)

	r.Shutdown()
	for i := 0; i < 2; i++ {
		c := waitClosed(t, closed)
		assert.Equal(t, exit.ReasonCancelled, c.Result.Reason)
	}
	assert.Empty(t, r.Positions())

	_, err = r.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long"})
	assert.ErrorIs(t, err, ErrStopped)
	gate.AssertNotCalled(t, "RecordTrade", mock.Anything, mock.Anything)
}

func TestHaltedGovernorBlocksOpen(t *testing.T) {
	gov := governor.New(governor.DefaultOptions())
	for i := 0; i < 3; i++ {
		gov.RecordTrade(false, -0.5)
	}
	book := market.NewPriceBook(time.Minute)
	book.Publish("BTCUSDT", 100, time.Now())
	r, _ := newTestRunner(t, gov, book)

	_, err := r.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: "long"})
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Contains(t, denied.Decision.Reason, "session halted")
	assert.Contains(t, denied.Decision.Reason, "3 consecutive losses")
}
