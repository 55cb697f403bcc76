package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"scalpguard/internal/config"
	"scalpguard/internal/exitplan"
)

type StartupSummary struct {
	Exit     ExitSummary
	Governor GovernorSummary
	Market   MarketSummary
	Profiles []string
	HTTPAddr string
	Metrics  string
	Telegram bool
	Warnings []string
}

type ExitSummary struct {
	TickIntervalMs   int
	TakeProfitPct    float64
	StopLossPct      float64
	MaxHoldMs        int
	PositionSizeUSD  float64
	FeeRate          float64
	MinNetProfitUSD  float64
	DefaultProfile   string
	OpportunityProbe string
}

type GovernorSummary struct {
	WindowSize           int
	TripWindow           int
	MinHitRate           float64
	CriticalHitRate      float64
	MaxConsecutiveLosses int
	HaltCooloffSeconds   int
	RestoreFromStore     bool
}

type MarketSummary struct {
	Symbols       []string
	FeedURL       string
	MaxPriceAgeMs int
}

func buildSummary(cfg *config.Config, snap exitplan.Snapshot, feedEnabled bool) *StartupSummary {
	s := &StartupSummary{
		Exit: ExitSummary{
			TickIntervalMs:   cfg.Exit.TickIntervalMs,
			TakeProfitPct:    cfg.Position.TakeProfitPct,
			StopLossPct:      cfg.Position.StopLossPct,
			MaxHoldMs:        cfg.Position.MaxHoldMs,
			PositionSizeUSD:  cfg.Position.PositionSizeUSD,
			FeeRate:          cfg.Position.FeeRate,
			MinNetProfitUSD:  cfg.Position.MinNetProfitUSD,
			DefaultProfile:   cfg.Position.DefaultProfile,
			OpportunityProbe: cfg.Exit.OpportunityURL,
		},
		Governor: GovernorSummary{
			WindowSize:           cfg.Governor.WindowSize,
			TripWindow:           cfg.Governor.TripWindow,
			MinHitRate:           cfg.Governor.MinHitRate,
			CriticalHitRate:      cfg.Governor.CriticalHitRate,
			MaxConsecutiveLosses: cfg.Governor.MaxConsecutiveLosses,
			HaltCooloffSeconds:   cfg.Governor.HaltCooloffSeconds,
			RestoreFromStore:     cfg.Governor.RestoreFromStore,
		},
		Market: MarketSummary{
			Symbols:       cfg.Market.Symbols,
			MaxPriceAgeMs: cfg.Market.MaxPriceAgeMs,
		},
		Profiles: snap.IDs(),
		HTTPAddr: cfg.App.HTTPAddr,
		Telegram: cfg.Notify.Telegram.Enabled,
	}
	if feedEnabled {
		s.Market.FeedURL = cfg.Market.FeedURL
	}
	if cfg.Metrics.Enabled {
		s.Metrics = cfg.Metrics.Path
	}
	return s
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[退出引擎 (EXIT ENGINE)]")
	fmt.Fprintf(w, "  评估间隔: %dms\n", s.Exit.TickIntervalMs)
	fmt.Fprintf(w, "  止盈/止损: %.2f%% / %.2f%%\n", s.Exit.TakeProfitPct, s.Exit.StopLossPct)
	fmt.Fprintf(w, "  最长持有: %dms\n", s.Exit.MaxHoldMs)
	fmt.Fprintf(w, "  仓位/费率: %.2f USD / %.4f\n", s.Exit.PositionSizeUSD, s.Exit.FeeRate)
	fmt.Fprintf(w, "  最小净利: %.2f USD\n", s.Exit.MinNetProfitUSD)
	fmt.Fprintf(w, "  默认 profile: %s\n", orDash(s.Exit.DefaultProfile))
	fmt.Fprintf(w, "  可用 profile: %s\n", formatList(s.Profiles))
	fmt.Fprintf(w, "  机会探针: %s\n", orDash(s.Exit.OpportunityProbe))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[会话风控 (SESSION GOVERNOR)]")
	fmt.Fprintf(w, "  窗口/熔断窗口: %d / %d\n", s.Governor.WindowSize, s.Governor.TripWindow)
	fmt.Fprintf(w, "  最低/临界胜率: %.0f%% / %.0f%%\n", s.Governor.MinHitRate, s.Governor.CriticalHitRate)
	fmt.Fprintf(w, "  连亏熔断: %d 笔，冷却 %ds\n", s.Governor.MaxConsecutiveLosses, s.Governor.HaltCooloffSeconds)
	fmt.Fprintf(w, "  历史预热: %v\n", s.Governor.RestoreFromStore)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[行情 (MARKET)]")
	fmt.Fprintf(w, "  监控币种: %s\n", formatList(s.Market.Symbols))
	fmt.Fprintf(w, "  WS 行情源: %s\n", orDash(s.Market.FeedURL))
	fmt.Fprintf(w, "  报价有效期: %dms\n", s.Market.MaxPriceAgeMs)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[服务 (SERVICES)]")
	fmt.Fprintf(w, "  HTTP: %s\n", orDash(s.HTTPAddr))
	fmt.Fprintf(w, "  Metrics: %s\n", orDash(s.Metrics))
	fmt.Fprintf(w, "  Telegram: %v\n", s.Telegram)
	if len(s.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "[警告 (WARNINGS)]")
		for _, warn := range s.Warnings {
			fmt.Fprintf(w, "  - %s\n", warn)
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
