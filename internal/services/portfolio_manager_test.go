package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/portfolio-manager/internal/config"
	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/internal/modules/journal"
	"github.com/aristath/portfolio-manager/internal/modules/state"
	testingpkg "github.com/aristath/portfolio-manager/internal/testing"
)

const fixtureDays = 140

type stubClock struct {
	open bool
	err  error
}

func (c stubClock) IsMarketOpen(ctx context.Context) (bool, error) {
	return c.open, c.err
}

type countingBackup struct {
	calls int
}

func (b *countingBackup) Backup(ctx context.Context) error {
	b.calls++
	return nil
}

type harness struct {
	manager *PortfolioManager
	broker  *testingpkg.MockBroker
	prices  *testingpkg.MockMarketDataProvider
	store   *state.Store
	journal *journal.Repository
	dir     string
	now     time.Time
}

// newHarness builds a manager over fixtureDays of prices where every
// instrument compounds at its own positive rate.
func newHarness(t *testing.T, rates map[string]float64) *harness {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "journal")
	t.Cleanup(cleanup)

	dir := t.TempDir()
	dates := testingpkg.TradingDays(testingpkg.FixtureStart, fixtureDays)
	prices := testingpkg.NewMockMarketDataProvider()
	for symbol, rate := range rates {
		prices.SetBars(symbol, testingpkg.BarsFromCloses(dates, testingpkg.GeometricCloses(100, rate, fixtureDays)))
	}

	broker := testingpkg.NewMockBroker(100000)
	store := state.NewStore(filepath.Join(dir, "pm_state.json"), zerolog.Nop())
	repo := journal.NewRepository(db.Conn(), zerolog.Nop())

	m := NewPortfolioManager(
		config.DefaultStrategyConfig(),
		filepath.Join(dir, "pm.lock"),
		&testingpkg.MockBucketSource{Buckets: testingpkg.NewBucketFixture()},
		prices,
		broker,
		store,
		repo,
		zerolog.Nop(),
	)
	now := dates[fixtureDays-1].Add(20 * time.Hour)
	m.now = func() time.Time { return now }

	return &harness{manager: m, broker: broker, prices: prices, store: store, journal: repo, dir: dir, now: now}
}

func risingRates() map[string]float64 {
	return map[string]float64{
		"SPY": 0.002, "QQQ": 0.0025,
		"AAPL": 0.003, "MSFT": 0.0028,
		"PLTR": 0.004, "IONQ": 0.005,
	}
}

func flatRates() map[string]float64 {
	return map[string]float64{"SPY": 0, "QQQ": 0, "AAPL": 0, "MSFT": 0, "PLTR": 0, "IONQ": 0}
}

func TestRun_DryRunCompletes(t *testing.T) {
	h := newHarness(t, risingRates())
	backup := &countingBackup{}
	h.manager.SetBackup(backup)

	report, err := h.manager.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, journal.StatusCompleted, report.Status)
	assert.True(t, report.DryRun)
	require.Len(t, report.Results, 4)
	require.NotNil(t, report.Selection)

	// buy-and-hold rises every day, so nothing can beat its momentum
	assert.Equal(t, domain.StrategyBuyHold, report.Selection.Strategy)
	assert.ElementsMatch(t, []string{"QQQ", "SPY"}, report.Targets.Symbols())
	assert.InDelta(t, 1.0, report.Targets.Sum(), 1e-6)

	require.NotNil(t, report.Plan)
	require.Len(t, report.Orders, 2)
	for _, o := range report.Orders {
		assert.Equal(t, domain.ActionBuy, o.Action)
		assert.Equal(t, dryRunStatus, o.OrderStatus)
	}
	assert.Empty(t, h.broker.Orders(), "dry run sends nothing")
	assert.Equal(t, 1, backup.calls)

	st := h.store.Load()
	assert.Equal(t, domain.StrategyBuyHold, st.LastStrategy)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 100000.0, st.Risk.AbsolutePeak)

	require.NotEmpty(t, report.RunID)
	run, err := h.journal.Get(context.Background(), report.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, journal.ModeDryRun, run.Mode)
	assert.Equal(t, domain.StrategyBuyHold, run.SelectedStrategy)
	assert.Len(t, run.Strategies, 4)
	assert.Len(t, run.Orders, 2)

	_, err = os.Stat(filepath.Join(h.dir, "pm.lock"))
	assert.True(t, os.IsNotExist(err), "lock is released")
}

func TestRun_LivePlacesOrders(t *testing.T) {
	h := newHarness(t, risingRates())
	h.broker.SetOrderError("SPY", errors.New("rejected"))

	report, err := h.manager.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusCompleted, report.Status)

	orders := h.broker.Orders()
	require.Len(t, orders, 1, "a failed order does not stop the rest")
	assert.Equal(t, "QQQ", orders[0].Symbol)
	assert.Equal(t, domain.ActionBuy, orders[0].Side)

	statuses := map[string]string{}
	for _, o := range report.Orders {
		statuses[o.Symbol] = o.OrderStatus
	}
	assert.Equal(t, "accepted", statuses["QQQ"])
	assert.Contains(t, statuses["SPY"], "failed")
}

func TestRun_ShortHistoryIsExcluded(t *testing.T) {
	h := newHarness(t, risingRates())
	dates := testingpkg.TradingDays(testingpkg.FixtureStart, fixtureDays)
	recent := dates[fixtureDays-15:]
	h.prices.SetBars("IONQ", testingpkg.BarsFromCloses(recent, testingpkg.GeometricCloses(100, 0.005, len(recent))))

	report, err := h.manager.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, journal.StatusCompleted, report.Status)
	assert.Contains(t, report.Excluded, "IONQ")
	assert.Zero(t, h.broker.Liquidations(), "a short series must not flatten the account")
	require.NotNil(t, report.Selection)
	assert.Equal(t, domain.StrategyBuyHold, report.Selection.Strategy)
	for _, res := range report.Results {
		assert.False(t, res.InCash, string(res.Strategy))
		assert.Greater(t, res.Nav.Len(), 100, string(res.Strategy))
	}
	assert.NotEmpty(t, h.broker.Orders())
}

func TestRun_MarketClosedSkipsOrders(t *testing.T) {
	h := newHarness(t, risingRates())
	h.manager.SetMarketClock(stubClock{open: false})

	report, err := h.manager.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusMarketClosed, report.Status)
	assert.Empty(t, h.broker.Orders())
	assert.Len(t, report.Orders, 2)
}

func TestRun_ClockErrorProceeds(t *testing.T) {
	h := newHarness(t, risingRates())
	h.manager.SetMarketClock(stubClock{err: errors.New("timeout")})

	report, err := h.manager.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusCompleted, report.Status)
	assert.Len(t, h.broker.Orders(), 2)
}

func TestRun_DrawdownLiquidates(t *testing.T) {
	tests := []struct {
		name             string
		dryRun           bool
		wantLiquidations int
	}{
		{"live", false, 1},
		{"dry run", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, risingRates())
			require.NoError(t, h.store.Save(state.State{
				Risk: domain.RiskState{AbsolutePeak: 120000, PeakDate: domain.DateKey(h.now).AddDate(0, 0, -10)},
			}))

			report, err := h.manager.Run(context.Background(), tt.dryRun)
			require.NoError(t, err)

			assert.Equal(t, journal.StatusLiquidated, report.Status)
			assert.Equal(t, "liquidate", report.Decision)
			assert.InDelta(t, 1.0/6.0, report.Drawdown, 1e-9)
			assert.Len(t, report.Results, 4)
			assert.Nil(t, report.Selection)
			assert.Empty(t, h.broker.Orders())
			assert.Equal(t, tt.wantLiquidations, h.broker.Liquidations())

			st := h.store.Load()
			require.NotNil(t, st.Risk.CooldownUntil)
			assert.Equal(t, domain.DateKey(h.now).AddDate(0, 0, 5), domain.DateKey(*st.Risk.CooldownUntil))
		})
	}
}

func TestRun_CooldownHoldsCash(t *testing.T) {
	h := newHarness(t, risingRates())
	until := domain.DateKey(h.now).AddDate(0, 0, 3)
	require.NoError(t, h.store.Save(state.State{
		Risk: domain.RiskState{AbsolutePeak: 100000, PeakDate: domain.DateKey(h.now), CooldownUntil: &until},
	}))

	report, err := h.manager.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, journal.StatusCooldown, report.Status)
	assert.Empty(t, report.Results, "no simulations during cooldown")
	assert.Empty(t, h.broker.Orders())
	assert.Zero(t, h.broker.Liquidations())

	last, err := h.journal.Last(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, journal.StatusCooldown, last.Status)
}

func TestRun_NoMomentumGoesToCash(t *testing.T) {
	h := newHarness(t, flatRates())
	h.broker.SetPositions([]domain.Position{{Symbol: "AAPL", Quantity: 10, CurrentPrice: 100}})

	report, err := h.manager.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, journal.StatusCash, report.Status)
	require.NotNil(t, report.Selection)
	assert.True(t, report.Selection.IsCash())
	assert.Nil(t, report.Plan)
	assert.Equal(t, 1, h.broker.Liquidations())
	assert.Equal(t, domain.StrategyCash, h.store.Load().LastStrategy)
}

func TestRun_NoPriceDataFails(t *testing.T) {
	h := newHarness(t, map[string]float64{})

	report, err := h.manager.Run(context.Background(), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoPriceData))
	require.NotNil(t, report)
	assert.Equal(t, journal.StatusFailed, report.Status)

	last, err := h.journal.Last(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, journal.StatusFailed, last.Status)
	assert.NotEmpty(t, last.Error)
}

func TestRun_AccountErrorFails(t *testing.T) {
	h := newHarness(t, risingRates())
	h.broker.SetAccountError(errors.New("unauthorized"))

	_, err := h.manager.Run(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestRun_LockedFailsFast(t *testing.T) {
	h := newHarness(t, risingRates())
	lock, err := state.AcquireLock(filepath.Join(h.dir, "pm.lock"))
	require.NoError(t, err)
	defer lock.Release()

	report, err := h.manager.Run(context.Background(), true)
	assert.Nil(t, report)
	assert.True(t, IsLocked(err))
	assert.Zero(t, h.prices.Calls("SPY"))
}
