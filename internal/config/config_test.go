package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)

	assert.Equal(t, 50, cfg.Exit.TickIntervalMs)
	assert.Equal(t, 200, cfg.Exit.MinScalpHoldMs)
	assert.Equal(t, 0.75, cfg.Exit.SuperScalpRatio)
	assert.Equal(t, 2.0, cfg.Exit.ExtendedHoldFactor)

	assert.Equal(t, 0.3, cfg.Position.TakeProfitPct)
	assert.Equal(t, 0.15, cfg.Position.StopLossPct)
	assert.Equal(t, 30000, cfg.Position.MaxHoldMs)
	assert.True(t, cfg.Position.TrailingEnabled)
	assert.Equal(t, 0.25, cfg.Position.MinNetProfitUSD)

	assert.Equal(t, 50, cfg.Governor.WindowSize)
	assert.Equal(t, 20, cfg.Governor.TripWindow)
	assert.Equal(t, 300, cfg.Governor.HaltCooloffSeconds)
	assert.Equal(t, 40.0, cfg.Governor.CriticalHitRate)
	assert.True(t, cfg.Governor.RestoreFromStore)

	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 64, cfg.Notify.QueueSize)
	assert.Equal(t, "ticks", cfg.Market.FeedName)
	assert.Empty(t, cfg.Market.FeedURL)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
exit:
  min_scalp_hold_ms: 0
position:
  trailing_enabled: false
  stop_loss_pct: 0
  take_profit_pct: "0.5"
market:
  symbols: [" btcusdt", "ETHUSDT", "btcusdt"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Exit.MinScalpHoldMs)
	assert.False(t, cfg.Position.TrailingEnabled)
	assert.Equal(t, 0.0, cfg.Position.StopLossPct)
	assert.Equal(t, 0.5, cfg.Position.TakeProfitPct)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Market.Symbols)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "governor:\n  window_size: 30\n  trip_window: 15\napp:\n  log_level: debug\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\napp:\n  log_level: warn\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Governor.WindowSize)
	assert.Equal(t, 15, cfg.Governor.TripWindow)
	assert.Equal(t, "warn", cfg.App.LogLevel)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"telegram without token", "notify:\n  telegram:\n    enabled: true\n", "bot_token"},
		{"trip window too large", "governor:\n  window_size: 10\n  trip_window: 20\n", "trip_window"},
		{"critical above minimum", "governor:\n  critical_hit_rate: 60\n", "critical_hit_rate"},
		{"negative min net", "position:\n  min_net_profit_usd: -1\n", "min_net_profit_usd"},
		{"trailing before breakeven", "exit:\n  breakeven_progress: 0.8\n  trailing_progress: 0.6\n", "trailing_progress"},
		{"bad log format", "app:\n  log_format: xml\n", "log_format"},
		{"feed without symbols", "market:\n  feed_url: wss://feed.example/ticks\n", "market.symbols"},
		{"feed with http scheme", "market:\n  feed_url: http://feed.example\n  symbols: [BTCUSDT]\n", "market.feed_url"},
		{"relative opportunity url", "exit:\n  opportunity_url: /scan\n", "exit.opportunity_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tc.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(envTelegramBotToken, "token-from-env")
	t.Setenv(envTelegramChatID, "42")
	path := writeFile(t, t.TempDir(), "config.yaml", "notify:\n  telegram:\n    enabled: true\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "token-from-env", cfg.Notify.Telegram.BotToken)
	assert.Equal(t, "42", cfg.Notify.Telegram.ChatID)
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}
