package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"scalpguard/internal/config"
	"scalpguard/internal/exitplan"
	"scalpguard/internal/gateway/notifier"
	"scalpguard/internal/governor"
	"scalpguard/internal/logger"
	"scalpguard/internal/market"
	"scalpguard/internal/pkg/circuit"
	"scalpguard/internal/store"
	"scalpguard/internal/store/gormstore"
	"scalpguard/internal/strategy/exit"
	"scalpguard/internal/trader"
	livehttp "scalpguard/internal/transport/http/live"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// restoreScanFactor 控制预热时多取的历史行数，用来跳过被取消的持仓。
const restoreScanFactor = 4

type AppBuilder struct {
	cfg *config.Config

	storeFn    func(config.StoreConfig) (store.Store, error)
	profilesFn func(path string) (*exitplan.Registry, error)
	textFn     func(config.NotifyConfig) notifier.TextNotifier
	tickSrcFn  func(config.MarketConfig) market.TickSource
	registry   *prometheus.Registry
}

type AppBuilderOption func(*AppBuilder)

// WithStore 注入现成的存储（测试用）。
func WithStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(config.StoreConfig) (store.Store, error) { return st, nil }
	}
}

// WithTextNotifier 替换默认的 Telegram/Nop 推送实现。
func WithTextNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.textFn = func(config.NotifyConfig) notifier.TextNotifier { return n }
	}
}

// WithTickSource 替换默认的 websocket 行情源。
func WithTickSource(src market.TickSource) AppBuilderOption {
	return func(b *AppBuilder) {
		b.tickSrcFn = func(config.MarketConfig) market.TickSource { return src }
	}
}

// WithMetricsRegistry 使用外部 prometheus registry。
func WithMetricsRegistry(reg *prometheus.Registry) AppBuilderOption {
	return func(b *AppBuilder) { b.registry = reg }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    openStore,
		profilesFn: loadProfiles,
		textFn:     buildTextNotifier,
		tickSrcFn:  buildTickSource,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)

	profiles, err := b.profilesFn(cfg.Exit.ProfilesPath)
	if err != nil {
		return nil, err
	}
	snap := profiles.Snapshot()
	logger.Infof("✓ 已加载 %d 个退出 profile: %v", len(snap.Profiles), snap.IDs())
	if err := checkDefaultProfile(cfg, profiles); err != nil {
		return nil, err
	}
	profiles.Subscribe(func(s exitplan.Snapshot) {
		logger.Infof("exit profiles reloaded version=%d ids=%v", s.Version, s.IDs())
	})

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	async := notifier.NewAsync(b.textFn(cfg.Notify), cfg.Notify.QueueSize, 30*time.Second)
	events := newEventSink(st, async, cfg.Notify.QueueSize)

	govOpts := []governor.Option{governor.WithListener(events.Listener())}
	var metricsHandler http.Handler
	if reg := b.metricsRegistry(); reg != nil {
		govOpts = append(govOpts, governor.WithMetrics(reg))
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}
	gov := governor.New(governorOptions(cfg.Governor), govOpts...)
	if cfg.Governor.RestoreFromStore {
		if err := restoreGovernor(ctx, gov, st, cfg.Governor.WindowSize); err != nil {
			logger.Warnf("governor restore skipped: %v", err)
		}
	}

	breaker := circuit.NewCircuitBreaker("opportunity", cfg.Exit.ProbeBreakerThreshold,
		time.Duration(cfg.Exit.ProbeBreakerCooldownSec)*time.Second)
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("circuit %s: %s -> %s", name, from, to)
	})
	engine := exit.NewEngine(exitOptions(cfg.Exit), exit.WithProbeBreaker(breaker))

	book := market.NewPriceBook(time.Duration(cfg.Market.MaxPriceAgeMs) * time.Millisecond)
	var updater *market.TickUpdater
	if src := b.tickSrcFn(cfg.Market); src != nil {
		updater = market.NewTickUpdater(book, src, market.WithWSCallbacks(
			func() { logger.Infof("[WS] %s connected", cfg.Market.FeedName) },
			func(err error) { logger.Warnf("[WS] %s disconnected: %v", cfg.Market.FeedName, err) },
		))
	}

	runnerOpts := []trader.RunnerOption{
		trader.WithOutcomeStore(st),
		trader.WithNotifier(async),
		trader.WithDefaultProfile(cfg.Position.DefaultProfile),
	}
	if u := strings.TrimSpace(cfg.Exit.OpportunityURL); u != "" {
		probe := trader.NewHTTPOpportunityProbe(u, time.Duration(cfg.Exit.ProbeTimeoutMs)*time.Millisecond)
		runnerOpts = append(runnerOpts, trader.WithProbeFactory(probe.Factory()))
	}
	runner := trader.NewRunner(engine, gov, profiles, book, positionDefaults(cfg.Position), runnerOpts...)

	server, err := livehttp.NewServer(livehttp.ServerConfig{
		Addr:           cfg.App.HTTPAddr,
		Governor:       gov,
		Positions:      runner,
		Prices:         book,
		Profiles:       profiles,
		History:        st,
		MetricsPath:    cfg.Metrics.Path,
		MetricsHandler: metricsHandler,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	summary := buildSummary(cfg, snap, updater != nil)
	summary.Warnings = profileWarnings(cfg, profiles)
	for _, w := range summary.Warnings {
		logger.Warnf("exit profile: %s", w)
	}
	return &App{
		cfg:      cfg,
		store:    st,
		profiles: profiles,
		governor: gov,
		book:     book,
		updater:  updater,
		runner:   runner,
		notify:   async,
		events:   events,
		liveHTTP: server,
		Summary:  summary,
	}, nil
}

// metricsRegistry 在未启用指标时返回 nil。
func (b *AppBuilder) metricsRegistry() *prometheus.Registry {
	if !b.cfg.Metrics.Enabled {
		return nil
	}
	if b.registry != nil {
		return b.registry
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Preflight 只加载配置引用的 profile 文件并生成启动摘要，不打开存储也不启动服务。
func Preflight(cfg *config.Config) (*StartupSummary, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	profiles, err := loadProfiles(cfg.Exit.ProfilesPath)
	if err != nil {
		return nil, err
	}
	if err := checkDefaultProfile(cfg, profiles); err != nil {
		return nil, err
	}
	summary := buildSummary(cfg, profiles.Snapshot(), strings.TrimSpace(cfg.Market.FeedURL) != "")
	summary.Warnings = profileWarnings(cfg, profiles)
	return summary, nil
}

// profileWarnings 列出止盈目标不足以覆盖最低净利的参数组合（默认参数与每个 profile）。
func profileWarnings(cfg *config.Config, profiles *exitplan.Registry) []string {
	base := positionDefaults(cfg.Position)
	var out []string
	check := func(name string, pc exit.PositionConfig) {
		if pc.TargetClearsMinimum() {
			return
		}
		out = append(out, fmt.Sprintf("%s: take_profit_pct %.4f%% is below the %.4f%% move needed for min net profit",
			name, pc.TakeProfitPct, pc.MinMovePct()))
	}
	check("position defaults", base)
	for _, id := range profiles.Snapshot().IDs() {
		pc, err := profiles.Resolve(id, base)
		if err != nil {
			continue
		}
		check("profile "+id, pc)
	}
	return out
}

func checkDefaultProfile(cfg *config.Config, profiles *exitplan.Registry) error {
	id := strings.TrimSpace(cfg.Position.DefaultProfile)
	if id == "" {
		return nil
	}
	if _, ok := profiles.Profile(id); !ok {
		return fmt.Errorf("position.default_profile %q not found in %s", id, cfg.Exit.ProfilesPath)
	}
	return nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	return gormstore.NewGormStore(cfg.Path)
}

// loadProfiles 在文件不存在时退回空 registry，只使用 position 默认参数。
func loadProfiles(path string) (*exitplan.Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return exitplan.Empty(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warnf("exit profiles file %s not found, using position defaults only", path)
		return exitplan.Empty(), nil
	}
	reg, err := exitplan.NewRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load exit profiles: %w", err)
	}
	return reg, nil
}

func buildTextNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return notifier.Nop{}
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

func buildTickSource(cfg config.MarketConfig) market.TickSource {
	if cfg.FeedURL == "" {
		return nil
	}
	return market.NewWSFeed(cfg.FeedName, cfg.FeedURL)
}

func restoreGovernor(ctx context.Context, gov *governor.Governor, repo store.OutcomeRepository, window int) error {
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := repo.RecentOutcomes(rctx, window*restoreScanFactor)
	if err != nil {
		return err
	}
	outcomes := make([]governor.Outcome, 0, len(rows))
	for _, row := range rows {
		if row.Reason == exit.ReasonCancelled.String() {
			continue
		}
		outcomes = append(outcomes, governor.Outcome{IsWin: row.IsWin, PnL: row.ProfitUSD, At: row.CreatedAt})
	}
	if len(outcomes) > window {
		outcomes = outcomes[len(outcomes)-window:]
	}
	gov.Restore(outcomes)
	return nil
}

func governorOptions(cfg config.GovernorConfig) governor.Options {
	return governor.Options{
		WindowSize:           cfg.WindowSize,
		TripWindow:           cfg.TripWindow,
		MinHistory:           cfg.MinHistory,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		HaltCooloff:          time.Duration(cfg.HaltCooloffSeconds) * time.Second,
		MinHitRate:           cfg.MinHitRate,
		CriticalHitRate:      cfg.CriticalHitRate,
		MinPause:             time.Duration(cfg.MinPauseSeconds) * time.Second,
		CriticalPause:        time.Duration(cfg.CriticalPauseSeconds) * time.Second,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		ErrorPause:           time.Duration(cfg.ErrorPauseSeconds) * time.Second,
	}
}

func exitOptions(cfg config.ExitConfig) exit.Options {
	return exit.Options{
		TickInterval:       time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		MinScalpHold:       time.Duration(cfg.MinScalpHoldMs) * time.Millisecond,
		SuperScalpRatio:    cfg.SuperScalpRatio,
		BreakevenProgress:  cfg.BreakevenProgress,
		TrailingProgress:   cfg.TrailingProgress,
		TrailingDistance:   cfg.TrailingDistance,
		ExtendedHoldFactor: cfg.ExtendedHoldFactor,
		ProbeTimeout:       time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond,
	}
}

func positionDefaults(cfg config.PositionConfig) exit.PositionConfig {
	return exit.PositionConfig{
		TakeProfitPct:   cfg.TakeProfitPct,
		StopLossPct:     cfg.StopLossPct,
		MaxHold:         time.Duration(cfg.MaxHoldMs) * time.Millisecond,
		TrailingEnabled: cfg.TrailingEnabled,
		MinProfitPct:    cfg.MinProfitPct,
		MinProfitUSD:    cfg.MinProfitUSD,
		PositionSizeUSD: cfg.PositionSizeUSD,
		FeeRate:         cfg.FeeRate,
		MinNetProfitUSD: cfg.MinNetProfitUSD,
	}
}
