package store

import (
	"context"

	"scalpguard/internal/store/model"
)

// OutcomeRepository 持久化持仓结算结果，仅在退出引擎返回后调用。
type OutcomeRepository interface {
	InsertOutcome(ctx context.Context, rec *model.TradeOutcomeModel) error
	// RecentOutcomes 返回最近 limit 条记录，按时间正序。
	RecentOutcomes(ctx context.Context, limit int) ([]model.TradeOutcomeModel, error)
}

// GovernorEventRepository 持久化风控状态切换。
type GovernorEventRepository interface {
	InsertGovernorEvent(ctx context.Context, rec *model.GovernorEventModel) error
	RecentGovernorEvents(ctx context.Context, limit int) ([]model.GovernorEventModel, error)
}

// Store is the entry point for database access.
type Store interface {
	OutcomeRepository
	GovernorEventRepository
	// Close closes the store connection.
	Close() error
}
