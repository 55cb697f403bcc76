package config

import "strings"

// Config 是 scalpguard 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Exit     ExitConfig     `toml:"exit"`
	Position PositionConfig `toml:"position"`
	Governor GovernorConfig `toml:"governor"`
	Market   MarketConfig   `toml:"market"`
	Store    StoreConfig    `toml:"store"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
}

// ExitConfig 是退出引擎的调参，所有持仓共享。
type ExitConfig struct {
	TickIntervalMs          int     `toml:"tick_interval_ms"`
	MinScalpHoldMs          int     `toml:"min_scalp_hold_ms"`
	SuperScalpRatio         float64 `toml:"super_scalp_ratio"`
	BreakevenProgress       float64 `toml:"breakeven_progress"`
	TrailingProgress        float64 `toml:"trailing_progress"`
	TrailingDistance        float64 `toml:"trailing_distance"`
	ExtendedHoldFactor      float64 `toml:"extended_hold_factor"`
	ProbeTimeoutMs          int     `toml:"probe_timeout_ms"`
	ProbeBreakerThreshold   int     `toml:"probe_breaker_threshold"`
	ProbeBreakerCooldownSec int     `toml:"probe_breaker_cooldown_seconds"`
	ProfilesPath            string  `toml:"profiles_path"`
	// OpportunityURL 为空时不做机会探测。
	OpportunityURL string `toml:"opportunity_url"`
}

// PositionConfig 是单笔仓位的默认参数，可被 exit profile 覆盖。
type PositionConfig struct {
	TakeProfitPct   float64 `toml:"take_profit_pct"`
	StopLossPct     float64 `toml:"stop_loss_pct"`
	MaxHoldMs       int     `toml:"max_hold_ms"`
	TrailingEnabled bool    `toml:"trailing_enabled"`
	MinProfitPct    float64 `toml:"min_profit_pct"`
	MinProfitUSD    float64 `toml:"min_profit_usd"`
	PositionSizeUSD float64 `toml:"position_size_usd"`
	FeeRate         float64 `toml:"fee_rate"`
	MinNetProfitUSD float64 `toml:"min_net_profit_usd"`
	DefaultProfile  string  `toml:"default_profile"`
}

type GovernorConfig struct {
	WindowSize           int     `toml:"window_size"`
	TripWindow           int     `toml:"trip_window"`
	MinHistory           int     `toml:"min_history"`
	MaxConsecutiveLosses int     `toml:"max_consecutive_losses"`
	HaltCooloffSeconds   int     `toml:"halt_cooloff_seconds"`
	MinHitRate           float64 `toml:"min_hit_rate"`
	CriticalHitRate      float64 `toml:"critical_hit_rate"`
	MinPauseSeconds      int     `toml:"min_pause_seconds"`
	CriticalPauseSeconds int     `toml:"critical_pause_seconds"`
	MaxConsecutiveErrors int     `toml:"max_consecutive_errors"`
	ErrorPauseSeconds    int     `toml:"error_pause_seconds"`
	RestoreFromStore     bool    `toml:"restore_from_store"`
}

// MarketConfig 控制价格簿；超过 MaxPriceAgeMs 的报价视为无样本。
type MarketConfig struct {
	MaxPriceAgeMs int      `toml:"max_price_age_ms"`
	Symbols       []string `toml:"symbols"`
	// FeedURL 为空时只接受 HTTP 推价。
	FeedURL  string `toml:"feed_url"`
	FeedName string `toml:"feed_name"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type NotifyConfig struct {
	Telegram  TelegramConfig `toml:"telegram"`
	QueueSize int            `toml:"queue_size"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
