package journal

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/portfolio-manager/internal/domain"
	testingpkg "github.com/aristath/portfolio-manager/internal/testing"
)

func sampleRun(started time.Time) *Run {
	return &Run{
		StartedAt:        started,
		FinishedAt:       started.Add(3 * time.Second),
		Mode:             ModeDryRun,
		Status:           StatusCompleted,
		SelectedStrategy: domain.StrategyTactical,
		AccountEquity:    100000,
		Drawdown:         0.02,
		Strategies: []StrategyResult{
			{Strategy: domain.StrategyBuyHold, FinalNav: 110000, TotalReturn: 0.1, MaxDrawdown: 0.05, HigherHighs: 12},
			{Strategy: domain.StrategyTactical, FinalNav: 120000, TotalReturn: 0.2, MaxDrawdown: 0.04, HigherHighs: 18, Liquidations: 1},
		},
		Allocation: domain.AllocationMap{"AAPL": 0.6, "MSFT": 0.4},
		Orders: []OrderRecord{
			{
				PositionDelta: domain.PositionDelta{Symbol: "AAPL", TargetShares: 300, CurrentShares: 100, Delta: 200, Action: domain.ActionBuy},
				OrderID:       "order-1",
				OrderStatus:   "accepted",
			},
			{
				PositionDelta: domain.PositionDelta{Symbol: "MSFT", TargetShares: 100, CurrentShares: 100, Delta: 0, Action: domain.ActionHold},
			},
		},
	}
}

func TestRepository_RecordAndGet(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "journal")
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	run := sampleRun(time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Record(ctx, run))
	require.NotEmpty(t, run.ID, "missing IDs are generated")

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, run.ID, got.ID)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.True(t, run.FinishedAt.Equal(got.FinishedAt))
	assert.Equal(t, ModeDryRun, got.Mode)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, domain.StrategyTactical, got.SelectedStrategy)
	assert.InDelta(t, 100000, got.AccountEquity, 1e-9)
	assert.InDelta(t, 0.02, got.Drawdown, 1e-12)
	assert.Empty(t, got.Error)

	require.Len(t, got.Strategies, 2)
	assert.Equal(t, domain.StrategyBuyHold, got.Strategies[0].Strategy)
	assert.Equal(t, 18, got.Strategies[1].HigherHighs)
	assert.Equal(t, 1, got.Strategies[1].Liquidations)
	assert.False(t, got.Strategies[1].InCash)

	assert.InDelta(t, 0.6, got.Allocation["AAPL"], 1e-12)
	assert.InDelta(t, 0.4, got.Allocation["MSFT"], 1e-12)

	require.Len(t, got.Orders, 2)
	assert.Equal(t, "AAPL", got.Orders[0].Symbol)
	assert.Equal(t, domain.ActionBuy, got.Orders[0].Action)
	assert.Equal(t, "order-1", got.Orders[0].OrderID)
	assert.Equal(t, domain.ActionHold, got.Orders[1].Action)
	assert.Empty(t, got.Orders[1].OrderID)
}

func TestRepository_GetMissing(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "journal")
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())
	got, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	last, err := repo.Last(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestRepository_RecentOrdering(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "journal")
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		run := &Run{StartedAt: base.Add(time.Duration(i) * 24 * time.Hour), Mode: ModeLive, Status: StatusCash}
		require.NoError(t, repo.Record(ctx, run))
		ids = append(ids, run.ID)
	}

	recent, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].ID)
	assert.Equal(t, ids[1], recent[1].ID)
	assert.Empty(t, recent[0].Strategies)
	assert.Nil(t, recent[0].Allocation)

	last, err := repo.Last(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, ids[2], last.ID)
	assert.True(t, last.FinishedAt.IsZero())
}

func TestRepository_FailedRunKeepsError(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "journal")
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	run := &Run{ID: "fixed-id", StartedAt: time.Now().UTC(), Mode: ModeLive, Status: StatusFailed, Error: "broker unavailable"}
	require.NoError(t, repo.Record(ctx, run))

	got, err := repo.Get(ctx, "fixed-id")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "broker unavailable", got.Error)
	assert.Empty(t, got.SelectedStrategy)

	// duplicate IDs roll the whole run back
	err = repo.Record(ctx, &Run{ID: "fixed-id", StartedAt: time.Now().UTC(), Mode: ModeLive, Status: StatusCompleted})
	assert.Error(t, err)
}

func TestRepository_Prune(t *testing.T) {
	db, cleanup := testingpkg.NewTestDB(t, "journal")
	defer cleanup()

	repo := NewRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	old := sampleRun(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	fresh := sampleRun(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Record(ctx, old))
	require.NoError(t, repo.Record(ctx, fresh))

	n, err := repo.Prune(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var children int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM strategy_results WHERE run_id = ?`, old.ID).Scan(&children))
	assert.Zero(t, children)

	got, err := repo.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
