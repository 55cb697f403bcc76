package exitplan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpguard/internal/pkg/trading"
	"scalpguard/internal/strategy/exit"
)

const sampleProfiles = `
exit_profiles:
  tight:
    description: " quick flips on majors "
    take_profit_pct: 0.2
    stop_loss_pct: 0.1
    max_hold_ms: 20000
  patient:
    take_profit_pct: 0.5
    trailing_enabled: false
    min_net_profit_usd: 0
`

func baseConfig() exit.PositionConfig {
	return exit.PositionConfig{
		Symbol:          "BTCUSDT",
		EntryPrice:      100,
		Side:            trading.Long,
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

func writeProfiles(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exit_profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRegistryLoadsProfiles(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, []string{"patient", "tight"}, snap.IDs())

	p, ok := r.Profile("tight")
	require.True(t, ok)
	assert.Equal(t, "quick flips on majors", p.Description)
}

func TestResolveAppliesOverrides(t *testing.T) {
	r, err := NewRegistry(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	cfg, err := r.Resolve("tight", baseConfig())
	require.NoError(t, err)
	assert.Equal(t, 0.2, cfg.TakeProfitPct)
	assert.Equal(t, 0.1, cfg.StopLossPct)
	assert.Equal(t, 20*time.Second, cfg.MaxHold)
	assert.True(t, cfg.TrailingEnabled)
	assert.Equal(t, 1000.0, cfg.PositionSizeUSD)

	cfg, err = r.Resolve("patient", baseConfig())
	require.NoError(t, err)
	assert.False(t, cfg.TrailingEnabled)
	assert.Zero(t, cfg.MinNetProfitUSD)
	assert.Equal(t, 30*time.Second, cfg.MaxHold)

	cfg, err = r.Resolve("", baseConfig())
	require.NoError(t, err)
	assert.Equal(t, baseConfig(), cfg)

	_, err = r.Resolve("missing", baseConfig())
	assert.True(t, errors.Is(err, ErrUnknownProfile))
}

func TestResolveWithRequestOverrides(t *testing.T) {
	r := Empty()

	cfg, err := r.ResolveWithOverrides("", baseConfig(), map[string]any{
		"take_profit_pct":  "0.4",
		"max_hold_ms":      float64(45000),
		"trailing_enabled": "false",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.4, cfg.TakeProfitPct)
	assert.Equal(t, 45*time.Second, cfg.MaxHold)
	assert.False(t, cfg.TrailingEnabled)

	t.Run("schema violation", func(t *testing.T) {
		_, err := r.ResolveWithOverrides("", baseConfig(), map[string]any{"fee_rate": 0.5})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid overrides")
	})
	t.Run("unknown key", func(t *testing.T) {
		_, err := r.ResolveWithOverrides("", baseConfig(), map[string]any{"leverage": 10})
		assert.Error(t, err)
	})
	t.Run("fractional hold", func(t *testing.T) {
		_, err := r.ResolveWithOverrides("", baseConfig(), map[string]any{"max_hold_ms": 1500.5})
		assert.Error(t, err)
	})
}

func TestRegistryRejectsBadFiles(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "exit_profiles:\n  a:\n    leverage: 5\n",
		"negative tp":     "exit_profiles:\n  a:\n    take_profit_pct: -1\n",
		"hold too short":  "exit_profiles:\n  a:\n    max_hold_ms: 10\n",
		"not a yaml map":  "exit_profiles: [1, 2]\n",
		"unknown section": "exit_plans: {}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(writeProfiles(t, body))
			assert.Error(t, err)
		})
	}
	_, err := NewRegistry("")
	assert.Error(t, err)
}

func TestRegistryHotReload(t *testing.T) {
	path := writeProfiles(t, sampleProfiles)
	r, err := NewRegistry(path)
	require.NoError(t, err)

	changed := make(chan Snapshot, 4)
	r.Subscribe(func(s Snapshot) { changed <- s })

	require.NoError(t, os.WriteFile(path, []byte("exit_profiles:\n  tight:\n    take_profit_pct: 0.25\n"), 0o644))

	select {
	case snap := <-changed:
		assert.Greater(t, snap.Version, int64(1))
		assert.Equal(t, []string{"tight"}, snap.IDs())
	case <-time.After(5 * time.Second):
		t.Fatal("registry did not reload")
	}
	cfg, err := r.Resolve("tight", baseConfig())
	require.NoError(t, err)
	assert.Equal(t, 0.25, cfg.TakeProfitPct)
}

func TestValidateValueNumbers(t *testing.T) {
	r := Empty()
	require.NotNil(t, r.schema)

	assert.NoError(t, r.validateValue(map[string]any{"max_hold_ms": 30000, "take_profit_pct": 0.3}))
	assert.Error(t, r.validateValue(map[string]any{"max_hold_ms": 30000.5}))
	assert.Error(t, r.validateValue(map[string]any{"take_profit_pct": 0}))
}
