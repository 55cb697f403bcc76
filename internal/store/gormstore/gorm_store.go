package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"scalpguard/internal/store"
	storemodel "scalpguard/internal/store/model"
)

type (
	TradeOutcomeRecord  = storemodel.TradeOutcomeModel
	GovernorEventRecord = storemodel.GovernorEventModel
)

// GormStore implements outcome and governor event storage using Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// NewGormStore initializes a new GormStore instance.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&storemodel.TradeOutcomeModel{}, &storemodel.GovernorEventModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var errNotInitialized = errors.New("gorm store 未初始化")

const defaultRecentLimit = 50

func (s *GormStore) ready() error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return nil
}

func (s *GormStore) InsertOutcome(ctx context.Context, rec *TradeOutcomeRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if rec == nil || strings.TrimSpace(rec.PositionID) == "" {
		return fmt.Errorf("outcome record missing position_id")
	}
	stampCreated(&rec.CreatedAt)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert outcome %s: %w", rec.PositionID, err)
	}
	return nil
}

func (s *GormStore) RecentOutcomes(ctx context.Context, limit int) ([]TradeOutcomeRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return recent[TradeOutcomeRecord](ctx, s.db, limit)
}

func (s *GormStore) InsertGovernorEvent(ctx context.Context, rec *GovernorEventRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	if rec == nil || strings.TrimSpace(rec.Kind) == "" {
		return fmt.Errorf("governor event missing kind")
	}
	stampCreated(&rec.CreatedAt)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert governor event %s: %w", rec.Kind, err)
	}
	return nil
}

func (s *GormStore) RecentGovernorEvents(ctx context.Context, limit int) ([]GovernorEventRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return recent[GovernorEventRecord](ctx, s.db, limit)
}

// recent 取最新 limit 行后翻转为时间正序。
func recent[T any](ctx context.Context, db *gorm.DB, limit int) ([]T, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	var rows []T
	if err := db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	slices.Reverse(rows)
	return rows, nil
}

func stampCreated(at *time.Time) {
	if at.IsZero() {
		*at = time.Now()
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
