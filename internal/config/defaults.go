package config

import (
	"strings"

	"scalpguard/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppLogFormat  = "text"
	defaultAppHTTPAddr   = ":9991"
	defaultExitTickMs    = 50
	defaultExitScalpMs   = 200
	defaultExitRatio     = 0.75
	defaultBreakeven     = 0.5
	defaultTrailing      = 0.75
	defaultTrailDistance = 0.25
	defaultExtendFactor  = 2
	defaultProbeTimeout  = 2000
	defaultProbeTrips    = 3
	defaultProbeCooldown = 60
	defaultProfilesPath  = "configs/exit_profiles.yaml"
	defaultTPPct         = 0.3
	defaultSLPct         = 0.15
	defaultMaxHoldMs     = 30000
	defaultMinProfitPct  = 0.05
	defaultMinProfitUSD  = 0.1
	defaultPositionUSD   = 1000
	defaultFeeRate       = 0.001
	defaultMinNetUSD     = 0.25
	defaultWindowSize    = 50
	defaultTripWindow    = 20
	defaultMinHistory    = 10
	defaultMaxLosses     = 3
	defaultHaltCooloff   = 300
	defaultMinHitRate    = 50
	defaultCriticalRate  = 40
	defaultMinPause      = 30
	defaultCriticalPause = 90
	defaultMaxErrors     = 3
	defaultErrorPause    = 60
	defaultMaxPriceAgeMs = 5000
	defaultStorePath     = "data/scalpguard.db"
	defaultMetricsPath   = "/metrics"
	defaultFeedName      = "ticks"
	defaultNotifyQueue   = 64
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exit.applyDefaults(keys)
	c.Position.applyDefaults(keys)
	c.Governor.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *ExitConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("exit.tick_interval_ms", &e.TickIntervalMs, defaultExitTickMs),
		fieldDefault{
			key:   "exit.min_scalp_hold_ms",
			need:  func() bool { return e.MinScalpHoldMs <= 0 },
			apply: func() { e.MinScalpHoldMs = defaultExitScalpMs },
		},
		floatFieldDefault("exit.super_scalp_ratio", &e.SuperScalpRatio, defaultExitRatio),
		floatFieldDefault("exit.breakeven_progress", &e.BreakevenProgress, defaultBreakeven),
		floatFieldDefault("exit.trailing_progress", &e.TrailingProgress, defaultTrailing),
		floatFieldDefault("exit.trailing_distance", &e.TrailingDistance, defaultTrailDistance),
		floatFieldDefault("exit.extended_hold_factor", &e.ExtendedHoldFactor, defaultExtendFactor),
		intFieldDefault("exit.probe_timeout_ms", &e.ProbeTimeoutMs, defaultProbeTimeout),
		intFieldDefault("exit.probe_breaker_threshold", &e.ProbeBreakerThreshold, defaultProbeTrips),
		intFieldDefault("exit.probe_breaker_cooldown_seconds", &e.ProbeBreakerCooldownSec, defaultProbeCooldown),
		stringFieldDefault("exit.profiles_path", &e.ProfilesPath, defaultProfilesPath),
	)
}

func (p *PositionConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("position.take_profit_pct", &p.TakeProfitPct, defaultTPPct),
		floatFieldDefault("position.stop_loss_pct", &p.StopLossPct, defaultSLPct),
		intFieldDefault("position.max_hold_ms", &p.MaxHoldMs, defaultMaxHoldMs),
		boolFieldDefault("position.trailing_enabled", &p.TrailingEnabled, true),
		floatFieldDefault("position.min_profit_pct", &p.MinProfitPct, defaultMinProfitPct),
		floatFieldDefault("position.min_profit_usd", &p.MinProfitUSD, defaultMinProfitUSD),
		floatFieldDefault("position.position_size_usd", &p.PositionSizeUSD, defaultPositionUSD),
		floatFieldDefault("position.fee_rate", &p.FeeRate, defaultFeeRate),
		floatFieldDefault("position.min_net_profit_usd", &p.MinNetProfitUSD, defaultMinNetUSD),
	)
}

func (g *GovernorConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("governor.window_size", &g.WindowSize, defaultWindowSize),
		intFieldDefault("governor.trip_window", &g.TripWindow, defaultTripWindow),
		intFieldDefault("governor.min_history", &g.MinHistory, defaultMinHistory),
		intFieldDefault("governor.max_consecutive_losses", &g.MaxConsecutiveLosses, defaultMaxLosses),
		intFieldDefault("governor.halt_cooloff_seconds", &g.HaltCooloffSeconds, defaultHaltCooloff),
		floatFieldDefault("governor.min_hit_rate", &g.MinHitRate, defaultMinHitRate),
		floatFieldDefault("governor.critical_hit_rate", &g.CriticalHitRate, defaultCriticalRate),
		intFieldDefault("governor.min_pause_seconds", &g.MinPauseSeconds, defaultMinPause),
		intFieldDefault("governor.critical_pause_seconds", &g.CriticalPauseSeconds, defaultCriticalPause),
		intFieldDefault("governor.max_consecutive_errors", &g.MaxConsecutiveErrors, defaultMaxErrors),
		intFieldDefault("governor.error_pause_seconds", &g.ErrorPauseSeconds, defaultErrorPause),
		boolFieldDefault("governor.restore_from_store", &g.RestoreFromStore, true),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("market.max_price_age_ms", &m.MaxPriceAgeMs, defaultMaxPriceAgeMs),
		stringFieldDefault("market.feed_name", &m.FeedName, defaultFeedName),
	)
	m.FeedURL = strings.TrimSpace(m.FeedURL)
	m.Symbols = normalizeSymbols(m.Symbols)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("notify.queue_size", &n.QueueSize, defaultNotifyQueue),
	)
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("metrics.path", &m.Path, defaultMetricsPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeSymbols(list []string) []string {
	return symbol.NormalizeList(list)
}
