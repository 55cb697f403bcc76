package app

import (
	"context"
	"fmt"

	"scalpguard/internal/config"
	"scalpguard/internal/exitplan"
	"scalpguard/internal/gateway/notifier"
	"scalpguard/internal/governor"
	"scalpguard/internal/logger"
	"scalpguard/internal/market"
	"scalpguard/internal/store"
	"scalpguard/internal/trader"
	livehttp "scalpguard/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动价格源、持仓执行与 HTTP 服务。
type App struct {
	cfg      *config.Config
	store    store.Store
	profiles *exitplan.Registry
	governor *governor.Governor
	book     *market.PriceBook
	updater  *market.TickUpdater
	runner   *trader.Runner
	notify   *notifier.Async
	events   *eventSink
	liveHTTP *livehttp.Server
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg, opts...).Build(context.Background())
}

// Run 启动全部服务并阻塞到 ctx 结束。
// 推送与事件落库在持仓全部给出终态之后才停止，保证收尾结果不丢。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.runner == nil {
		return fmt.Errorf("trader runner not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}

	// 事件 sink 会向推送队列写消息，所以先停事件再停推送。
	var notifyGroup, eventGroup errgroup.Group
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	eventCtx, stopEvents := context.WithCancel(context.Background())
	defer stopNotify()
	defer stopEvents()
	if a.notify != nil {
		notifyGroup.Go(func() error { return a.notify.Run(notifyCtx) })
	}
	if a.events != nil {
		eventGroup.Go(func() error { return a.events.Run(eventCtx) })
	}

	group, gctx := errgroup.WithContext(ctx)
	if a.liveHTTP != nil {
		group.Go(func() error {
			logger.Infof("✓ HTTP 服务监听 %s", a.liveHTTP.Addr())
			if err := a.liveHTTP.Start(gctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	if a.updater != nil {
		group.Go(func() error {
			defer a.updater.Close()
			if err := a.updater.Start(gctx, a.cfg.Market.Symbols); err != nil {
				return fmt.Errorf("tick feed error: %w", err)
			}
			<-gctx.Done()
			return nil
		})
	}
	group.Go(func() error {
		return a.runner.Run(gctx)
	})

	err := group.Wait()
	a.runner.Shutdown()
	stopEvents()
	_ = eventGroup.Wait()
	stopNotify()
	_ = notifyGroup.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("close store: %v", err)
		}
	}
}

// Governor exposes the session governor (for tests and embedding).
func (a *App) Governor() *governor.Governor {
	if a == nil {
		return nil
	}
	return a.governor
}

// Runner exposes the trader runner.
func (a *App) Runner() *trader.Runner {
	if a == nil {
		return nil
	}
	return a.runner
}

// PriceBook exposes the shared price book.
func (a *App) PriceBook() *market.PriceBook {
	if a == nil {
		return nil
	}
	return a.book
}
