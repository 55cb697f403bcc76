package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Exit.validate(); err != nil {
		return err
	}
	if err := c.Position.validate(); err != nil {
		return err
	}
	if err := c.Governor.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
	return nil
}

func (e *ExitConfig) validate() error {
	if e.TickIntervalMs <= 0 {
		return fmt.Errorf("exit.tick_interval_ms must be > 0")
	}
	if e.SuperScalpRatio <= 0 || e.SuperScalpRatio > 1 {
		return fmt.Errorf("exit.super_scalp_ratio must be in (0,1]")
	}
	if e.BreakevenProgress <= 0 || e.TrailingProgress <= 0 {
		return fmt.Errorf("exit.breakeven_progress and exit.trailing_progress must be > 0")
	}
	if e.TrailingProgress < e.BreakevenProgress {
		return fmt.Errorf("exit.trailing_progress (%.2f) must be >= exit.breakeven_progress (%.2f)",
			e.TrailingProgress, e.BreakevenProgress)
	}
	if e.TrailingDistance <= 0 || e.TrailingDistance >= 1 {
		return fmt.Errorf("exit.trailing_distance must be in (0,1)")
	}
	if e.ExtendedHoldFactor < 1 {
		return fmt.Errorf("exit.extended_hold_factor must be >= 1")
	}
	if err := validateURL("exit.opportunity_url", e.OpportunityURL, "http", "https"); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if err := validateURL("market.feed_url", m.FeedURL, "ws", "wss"); err != nil {
		return err
	}
	if m.FeedURL != "" && len(m.Symbols) == 0 {
		return fmt.Errorf("market.symbols is required when market.feed_url is set")
	}
	return nil
}

// validateURL 允许空值；非空时必须是给定 scheme 的绝对地址。
func validateURL(key, raw string, schemes ...string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s is not a valid url: %q", key, raw)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("%s must use %s scheme, got %q", key, strings.Join(schemes, "/"), u.Scheme)
}

func (p *PositionConfig) validate() error {
	if p.TakeProfitPct <= 0 {
		return fmt.Errorf("position.take_profit_pct must be > 0")
	}
	if p.StopLossPct < 0 {
		return fmt.Errorf("position.stop_loss_pct must be >= 0")
	}
	if p.MaxHoldMs <= 0 {
		return fmt.Errorf("position.max_hold_ms must be > 0")
	}
	if p.PositionSizeUSD <= 0 {
		return fmt.Errorf("position.position_size_usd must be > 0")
	}
	if p.FeeRate < 0 || p.FeeRate >= 0.1 {
		return fmt.Errorf("position.fee_rate must be in [0,0.1)")
	}
	if p.MinNetProfitUSD < 0 || p.MinProfitUSD < 0 {
		return fmt.Errorf("position.min_net_profit_usd and position.min_profit_usd must be >= 0")
	}
	return nil
}

func (g *GovernorConfig) validate() error {
	if g.TripWindow > g.WindowSize {
		return fmt.Errorf("governor.trip_window (%d) cannot exceed governor.window_size (%d)", g.TripWindow, g.WindowSize)
	}
	if g.MinHitRate > 100 || g.CriticalHitRate > 100 {
		return fmt.Errorf("governor hit rates are percentages and must be <= 100")
	}
	if g.CriticalHitRate > g.MinHitRate {
		return fmt.Errorf("governor.critical_hit_rate (%.1f) must be <= governor.min_hit_rate (%.1f)",
			g.CriticalHitRate, g.MinHitRate)
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}
