package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpguard/internal/config"
	"scalpguard/internal/exitplan"
	"scalpguard/internal/governor"
	"scalpguard/internal/store/gormstore"
	"scalpguard/internal/store/model"
	"scalpguard/internal/trader"
)

type textRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *textRecorder) SendText(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *textRecorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.texts, "\n---\n")
}

func loadTestConfig(t *testing.T, dir string, extra string) *config.Config {
	t.Helper()
	body := fmt.Sprintf(`
app:
  http_addr: 127.0.0.1:0
exit:
  tick_interval_ms: 5
  profiles_path: %s
store:
  path: %s
metrics:
  enabled: true
%s`, filepath.Join(dir, "missing_profiles.yaml"), filepath.Join(dir, "app.db"), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestRunPersistsAndNotifiesOnShutdown(t *testing.T) {
	dir := t.TempDir()
	cfg := loadTestConfig(t, dir, "")
	rec := &textRecorder{}
	a, err := NewApp(cfg, WithTextNotifier(rec), WithMetricsRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.PriceBook().Publish("BTCUSDT", 100, time.Now())
	view, err := a.Runner().Open(context.Background(), trader.OpenRequest{Symbol: "BTCUSDT", Side: "long"})
	require.NoError(t, err)
	a.Governor().HaltSession("operator drill")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}

	st, err := gormstore.NewGormStore(cfg.Store.Path)
	require.NoError(t, err)
	defer st.Close()

	rows, err := st.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, view.ID, rows[0].PositionID)
	assert.Equal(t, "CANCELLED", rows[0].Reason)

	events, err := st.RecentGovernorEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "halted", events[0].Kind)
	assert.Equal(t, "operator drill", events[0].Reason)
	require.NotNil(t, events[0].Until)

	sent := rec.joined()
	assert.Contains(t, sent, view.ID)
	assert.Contains(t, sent, "交易会话熔断")
}

func TestBuildRejectsUnknownDefaultProfile(t *testing.T) {
	dir := t.TempDir()
	cfg := loadTestConfig(t, dir, "position:\n  default_profile: aggressive\n")
	_, err := NewApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggressive")
}

func TestRestoreGovernorSkipsCancelled(t *testing.T) {
	st, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "restore.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	reasons := []string{"TAKE_PROFIT", "TIME_EXIT", "CANCELLED", "TIME_EXIT", "TIME_EXIT", "CANCELLED"}
	wins := []bool{true, false, false, false, false, false}
	for i, reason := range reasons {
		require.NoError(t, st.InsertOutcome(ctx, &model.TradeOutcomeModel{
			PositionID: fmt.Sprintf("p-%d", i),
			Symbol:     "BTCUSDT",
			Side:       "long",
			Reason:     reason,
			IsWin:      wins[i],
			ProfitUSD:  -0.2,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	gov := governor.New(governor.DefaultOptions())
	require.NoError(t, restoreGovernor(ctx, gov, st, 50))
	stats := gov.Stats()
	assert.Equal(t, 4, stats.TotalTrades)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 3, stats.ConsecutiveLosses)
	assert.True(t, stats.SessionHalted, "a restored loss streak trips the halt again")

	gov = governor.New(governor.DefaultOptions())
	require.NoError(t, restoreGovernor(ctx, gov, st, 2))
	assert.Equal(t, 2, gov.Stats().TotalTrades)
}

func TestEventMessages(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	msg := eventMessage(governor.Event{Kind: governor.EventHalted, Reason: "3 consecutive losses", Until: at.Add(5 * time.Minute), At: at})
	out := msg.RenderMarkdown()
	assert.Contains(t, out, "🛑")
	assert.Contains(t, out, "3 consecutive losses")
	assert.Contains(t, out, "2026-03-01T10:05:00Z")

	msg = eventMessage(governor.Event{Kind: governor.EventReset, At: at})
	assert.Equal(t, "风控已重置", msg.Title)
}

func TestSummaryPrint(t *testing.T) {
	dir := t.TempDir()
	cfg := loadTestConfig(t, dir, "market:\n  symbols: [btcusdt]\n")
	var buf bytes.Buffer
	buildSummary(cfg, exitplan.Empty().Snapshot(), false).Fprint(&buf)
	out := buf.String()
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "/metrics")
	assert.Contains(t, out, "50 / 20")
}

func TestPreflight(t *testing.T) {
	dir := t.TempDir()
	cfg := loadTestConfig(t, dir, "market:\n  symbols: [ethusdt]\n")
	summary, err := Preflight(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"ETHUSDT"}, summary.Market.Symbols)
	assert.Empty(t, summary.Profiles)
	_, statErr := os.Stat(cfg.Store.Path)
	assert.True(t, os.IsNotExist(statErr), "preflight must not create the database")

	cfg = loadTestConfig(t, t.TempDir(), "position:\n  default_profile: aggressive\n")
	_, err = Preflight(cfg)
	require.Error(t, err)
}

func TestProfileWarnings(t *testing.T) {
	dir := t.TempDir()
	cfg := loadTestConfig(t, dir, "")
	path := filepath.Join(dir, "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exit_profiles:
  tight:
    take_profit_pct: 0.2
  wide:
    take_profit_pct: 0.5
`), 0o644))
	profiles, err := exitplan.NewRegistry(path)
	require.NoError(t, err)

	warnings := profileWarnings(cfg, profiles)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "profile tight")
	assert.Contains(t, warnings[0], "0.2250%")

	cfg.Position.MinProfitPct = 0.4
	warnings = profileWarnings(cfg, profiles)
	assert.Len(t, warnings, 2, "defaults and tight fall short of the 0.4% floor")

	summary := buildSummary(cfg, profiles.Snapshot(), false)
	summary.Warnings = warnings
	var buf bytes.Buffer
	summary.Fprint(&buf)
	assert.Contains(t, buf.String(), "WARNINGS")
}
