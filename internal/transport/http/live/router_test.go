package livehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpguard/internal/exitplan"
	"scalpguard/internal/governor"
	"scalpguard/internal/market"
	"scalpguard/internal/store/gormstore"
	"scalpguard/internal/store/model"
	"scalpguard/internal/strategy/exit"
	"scalpguard/internal/trader"
)

type fixture struct {
	srv    *Server
	gov    *governor.Governor
	book   *market.PriceBook
	runner *trader.Runner
	store  *gormstore.GormStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	gov := governor.New(governor.DefaultOptions(), governor.WithMetrics(reg))
	book := market.NewPriceBook(time.Minute)
	st, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opts := exit.DefaultOptions()
	opts.TickInterval = time.Millisecond
	defaults := exit.PositionConfig{
		TakeProfitPct:   0.3,
		StopLossPct:     0.15,
		MaxHold:         30 * time.Second,
		TrailingEnabled: true,
		PositionSizeUSD: 1000,
		FeeRate:         0.001,
		MinNetProfitUSD: 0.25,
	}
	runner := trader.NewRunner(exit.NewEngine(opts), gov, exitplan.Empty(), book, defaults, trader.WithOutcomeStore(st))
	t.Cleanup(runner.Shutdown)

	srv, err := NewServer(ServerConfig{
		Governor:       gov,
		Positions:      runner,
		Prices:         book,
		Profiles:       exitplan.Empty(),
		History:        st,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	require.NoError(t, err)
	return &fixture{srv: srv, gov: gov, book: book, runner: runner, store: st}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(bytes.TrimSpace(w.Body.Bytes()), []byte("{")) {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func TestNewServerRequiresGovernor(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestHealthAndGovernorQueries(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = f.do(t, http.MethodGet, "/api/governor/can-trade", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["can_trade"])
	assert.Contains(t, body["reason"], "building history")

	f.gov.RecordTrade(true, 1.5)
	code, body = f.do(t, http.MethodGet, "/api/governor/stats", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total_trades"])
	assert.Equal(t, float64(100), body["hit_rate"])
}

func TestManualHaltAndReset(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/governor/halt", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodPost, "/api/governor/halt", haltRequest{Reason: "exchange maintenance"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["halted"])
	assert.Contains(t, body["reason"], "exchange maintenance")

	f.book.Publish("BTCUSDT", 100, time.Now())
	code, body = f.do(t, http.MethodPost, "/api/positions", trader.OpenRequest{Symbol: "BTCUSDT", Side: "long"})
	assert.Equal(t, http.StatusForbidden, code)
	decision, ok := body["decision"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, decision["can_trade"])

	code, body = f.do(t, http.MethodPost, "/api/governor/reset", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["session_halted"])

	code, body = f.do(t, http.MethodGet, "/api/governor/halt", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["halted"])
}

func TestPublishPrices(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	code, _ := f.do(t, http.MethodPost, "/api/prices", priceRequest{Symbol: "btcusdt", Price: 100, TsMs: now.UnixMilli()})
	assert.Equal(t, http.StatusOK, code)
	q, ok := f.book.Latest("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Price)

	code, _ = f.do(t, http.MethodPost, "/api/prices", priceRequest{Symbol: "BTCUSDT", Price: 99, TsMs: now.Add(-time.Second).UnixMilli()})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/api/prices", priceRequest{Symbol: "BTCUSDT", Price: -1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodGet, "/api/prices", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["quotes"], 1)
}

func TestOpenListAndClosePosition(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/positions", trader.OpenRequest{Symbol: "BTCUSDT", Side: "long"})
	assert.Equal(t, http.StatusConflict, code, "no price yet")

	code, _ = f.do(t, http.MethodPost, "/api/positions", trader.OpenRequest{Symbol: "BTCUSDT", Side: "sideways"})
	assert.Equal(t, http.StatusBadRequest, code)

	f.book.Publish("BTCUSDT", 100, time.Now())
	code, body := f.do(t, http.MethodPost, "/api/positions", trader.OpenRequest{Symbol: "BTCUSDT", Side: "long"})
	require.Equal(t, http.StatusCreated, code)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	code, body = f.do(t, http.MethodGet, "/api/positions", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["positions"], 1)

	code, body = f.do(t, http.MethodDelete, "/api/positions/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "CANCELLED", result["reason"])

	code, _ = f.do(t, http.MethodDelete, "/api/positions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/api/outcomes?limit=5", nil)
	assert.Equal(t, http.StatusOK, code)
	rows, ok := body["outcomes"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].(map[string]any)["position_id"])
	assert.Zero(t, f.gov.Stats().TotalTrades, "cancelled positions are not scored")
}

func TestGovernorEventsAndMetrics(t *testing.T) {
	f := newFixture(t)
	until := time.Now().Add(5 * time.Minute)
	require.NoError(t, f.store.InsertGovernorEvent(context.Background(), &model.GovernorEventModel{
		Kind:      string(governor.EventHalted),
		Reason:    "3 consecutive losses",
		Until:     &until,
		CreatedAt: time.Now(),
	}))

	code, body := f.do(t, http.MethodGet, "/api/governor/events", nil)
	assert.Equal(t, http.StatusOK, code)
	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, "halted", events[0].(map[string]any)["kind"])

	f.gov.RecordTrade(false, -1)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scalpguard_governor_trades_total")

	code, body = f.do(t, http.MethodGet, "/api/profiles", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["profiles"])
}
