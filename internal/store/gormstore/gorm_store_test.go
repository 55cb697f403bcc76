package gormstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "nested", "scalpguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOutcomeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := &TradeOutcomeRecord{
			PositionID:     fmt.Sprintf("pos-%d", i),
			Symbol:         "BTCUSDT",
			Side:           "long",
			EntryPrice:     100,
			ExitPrice:      100.3,
			Reason:         "TAKE_PROFIT",
			IsWin:          i%2 == 0,
			ProfitUSD:      float64(i),
			HoldMs:         1500,
			PositionConfig: datatypes.JSON(`{"take_profit_pct":0.3}`),
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.InsertOutcome(ctx, rec))
		assert.NotZero(t, rec.ID)
	}

	rows, err := s.RecentOutcomes(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "pos-2", rows[0].PositionID)
	assert.Equal(t, "pos-4", rows[2].PositionID)
	assert.True(t, rows[2].IsWin)
	assert.JSONEq(t, `{"take_profit_pct":0.3}`, string(rows[2].PositionConfig))
}

func TestInsertOutcomeValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.InsertOutcome(ctx, nil))
	assert.Error(t, s.InsertOutcome(ctx, &TradeOutcomeRecord{}))

	require.NoError(t, s.InsertOutcome(ctx, &TradeOutcomeRecord{PositionID: "dup"}))
	assert.Error(t, s.InsertOutcome(ctx, &TradeOutcomeRecord{PositionID: "dup"}), "position id is unique")
}

func TestGovernorEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	until := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second)

	require.NoError(t, s.InsertGovernorEvent(ctx, &GovernorEventRecord{Kind: "halted", Reason: "3 consecutive losses", Until: &until}))
	require.NoError(t, s.InsertGovernorEvent(ctx, &GovernorEventRecord{Kind: "reset", Reason: "manual reset"}))

	rows, err := s.RecentGovernorEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "halted", rows[0].Kind)
	require.NotNil(t, rows[0].Until)
	assert.True(t, until.Equal(*rows[0].Until))
	assert.Nil(t, rows[1].Until)
}

func TestNewGormStoreRequiresPath(t *testing.T) {
	_, err := NewGormStore("  ")
	assert.Error(t, err)

	var nilStore *GormStore
	assert.NoError(t, nilStore.Close())
	_, err = nilStore.RecentOutcomes(context.Background(), 1)
	assert.Error(t, err)
}
