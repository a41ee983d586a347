package backtest

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/portfolio-manager/internal/config"
	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/internal/modules/marketdata"
	testingpkg "github.com/aristath/portfolio-manager/internal/testing"
)

func buildDataset(t *testing.T, n int, closes map[string][]float64) *marketdata.Dataset {
	t.Helper()
	cfg := config.DefaultStrategyConfig()
	dates := testingpkg.TradingDays(testingpkg.FixtureStart, n)

	series := make(map[string]*domain.PriceSeries, len(closes))
	for symbol, c := range closes {
		s, err := marketdata.BuildSeries(symbol, testingpkg.BarsFromCloses(dates, c), cfg)
		require.NoError(t, err)
		series[symbol] = s
	}
	return marketdata.NewDataset(series, 0)
}

func buckets(t *testing.T, groups map[domain.BucketName][]string) domain.Buckets {
	t.Helper()
	b, err := domain.NewBuckets(groups)
	require.NoError(t, err)
	return b
}

func flatThenDrop(n, dropDay int, before, after float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i < dropDay {
			out[i] = before
		} else {
			out[i] = after
		}
	}
	return out
}

// crashScenario: flat benchmarks that fall 10% on day 60 while CORE bleeds 2%
// a day, so the strategies stay risk-off and the crash trips the drawdown.
func crashScenario(t *testing.T) (*marketdata.Dataset, domain.Buckets) {
	const n = 120
	ds := buildDataset(t, n, map[string][]float64{
		"SPY":  flatThenDrop(n, 60, 100, 90),
		"QQQ":  flatThenDrop(n, 60, 100, 90),
		"AAPL": testingpkg.GeometricCloses(100, -0.02, n),
	})
	return ds, buckets(t, map[domain.BucketName][]string{
		domain.BucketBenchmarks: {"SPY", "QQQ"},
		domain.BucketCore:       {"AAPL"},
	})
}

func TestRun_NotEnoughHistoryIsFlat(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	ds := buildDataset(t, 45, map[string][]float64{
		"SPY":  testingpkg.GeometricCloses(100, 0.01, 45),
		"AAPL": testingpkg.GeometricCloses(100, 0.02, 45),
	})
	b := buckets(t, map[domain.BucketName][]string{
		domain.BucketBenchmarks: {"SPY"},
		domain.BucketCore:       {"AAPL"},
	})

	sim := NewSimulator(cfg, b, zerolog.Nop())
	for _, res := range sim.RunAll(ds) {
		require.Equal(t, 45, res.Nav.Len())
		for _, v := range res.Nav.Values {
			assert.Equal(t, cfg.StartingCapital, v)
		}
		assert.True(t, res.InCash)
		assert.Empty(t, res.Final)
	}
}

func TestRun_BuyHoldTracksBenchmarks(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	const n = 100
	ds := buildDataset(t, n, map[string][]float64{
		"SPY":  testingpkg.GeometricCloses(100, 0.001, n),
		"QQQ":  testingpkg.GeometricCloses(300, 0.001, n),
		"AAPL": testingpkg.GeometricCloses(100, 0.01, n),
	})
	b := buckets(t, map[domain.BucketName][]string{
		domain.BucketBenchmarks: {"SPY", "QQQ"},
		domain.BucketCore:       {"AAPL"},
	})

	res := NewSimulator(cfg, b, zerolog.Nop()).Run(ds, NewBuyHold())

	require.Equal(t, n, res.Nav.Len())
	for day, v := range res.Nav.Values {
		assert.InDelta(t, cfg.StartingCapital*math.Pow(1.001, float64(day)), v, 1e-6)
	}
	assert.Equal(t, []string{"QQQ", "SPY"}, res.Final.Symbols())
	assert.NoError(t, res.Final.Validate())
	assert.False(t, res.InCash)
	assert.Empty(t, res.Liquidations)
}

func TestRun_TacticalRotatesIntoOutperformingCore(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	const n = 150
	ds := buildDataset(t, n, map[string][]float64{
		"SPY":  testingpkg.WavyCloses(100, 0.0002, 0.01, n),
		"QQQ":  testingpkg.WavyCloses(200, 0.0002, 0.01, n),
		"AAPL": testingpkg.WavyCloses(100, 0.004, 0.002, n),
		"MSFT": testingpkg.WavyCloses(150, 0.004, 0.002, n),
	})
	b := buckets(t, map[domain.BucketName][]string{
		domain.BucketBenchmarks: {"SPY", "QQQ"},
		domain.BucketCore:       {"AAPL", "MSFT"},
	})
	sim := NewSimulator(cfg, b, zerolog.Nop())

	res := sim.Run(ds, NewTactical(cfg, b))

	require.Equal(t, n, res.Nav.Len())
	assert.InDelta(t, cfg.StartingCapital, res.Nav.Values[0], 1e-6)
	assert.Equal(t, []string{"AAPL", "MSFT"}, res.Final.Symbols())
	assert.NoError(t, res.Final.Validate())
	assert.False(t, res.InCash)
	assert.Empty(t, res.Liquidations)
	assert.Greater(t, res.FinalNav(), cfg.StartingCapital)

	// nothing happens before the evaluation window opens
	hold := NewBuyHold()
	bh := sim.Run(ds, hold)
	for day := 0; day < 45; day++ {
		assert.InDelta(t, bh.Nav.Values[day], res.Nav.Values[day], 1e-6, "day %d", day)
	}
}

func TestRun_DrawdownLiquidatesThenReenters(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	ds, b := crashScenario(t)

	results := NewSimulator(cfg, b, zerolog.Nop()).RunAll(ds)
	require.Len(t, results, 4)

	for _, res := range results {
		if res.Strategy == domain.StrategyBuyHold {
			assert.Empty(t, res.Liquidations)
			assert.InDelta(t, 90000, res.FinalNav(), 1e-6)
			continue
		}

		t.Run(string(res.Strategy), func(t *testing.T) {
			require.Len(t, res.Liquidations, 1)
			liq := res.Liquidations[0]
			assert.Equal(t, ds.Dates[60], liq.Date)
			assert.Equal(t, ds.Dates[65], liq.CooldownUntil)
			assert.InDelta(t, 0.10, liq.Drawdown, 1e-9)
			assert.InDelta(t, 90000, liq.Value, 1e-6)

			assert.InDelta(t, 100000, res.Nav.Values[59], 1e-6)
			for day := 60; day < ds.Len(); day++ {
				assert.InDelta(t, 90000, res.Nav.Values[day], 1e-6, "day %d", day)
			}

			// re-entered equal-weight benchmarks after the cooldown
			assert.False(t, res.InCash)
			assert.InDelta(t, 0.5, res.Final["SPY"], 1e-9)
			assert.InDelta(t, 0.5, res.Final["QQQ"], 1e-9)
		})
	}
}

func TestRun_PerStrategyThreshold(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	cfg.DrawdownThresholds = map[domain.StrategyName]float64{domain.StrategyTactical: 0.2}
	ds, b := crashScenario(t)
	sim := NewSimulator(cfg, b, zerolog.Nop())

	assert.Empty(t, sim.Run(ds, NewTactical(cfg, b)).Liquidations)
	assert.Len(t, sim.Run(ds, NewSpec(cfg, b)).Liquidations, 1)
}

func TestRun_StillInCooldownAtEnd(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	const n = 100
	ds := buildDataset(t, n, map[string][]float64{
		"SPY":  flatThenDrop(n, 97, 100, 80),
		"AAPL": testingpkg.GeometricCloses(100, -0.02, n),
	})
	b := buckets(t, map[domain.BucketName][]string{
		domain.BucketBenchmarks: {"SPY"},
		domain.BucketCore:       {"AAPL"},
	})

	res := NewSimulator(cfg, b, zerolog.Nop()).Run(ds, NewTactical(cfg, b))

	require.Len(t, res.Liquidations, 1)
	assert.Equal(t, ds.Dates[n-1], res.Liquidations[0].CooldownUntil)
	assert.True(t, res.InCash)
	assert.Empty(t, res.Final)
}

func TestResultMetrics(t *testing.T) {
	res := Result{}
	res.Nav.Append(testingpkg.FixtureStart, 100)
	res.Nav.Append(testingpkg.FixtureStart.AddDate(0, 0, 1), 120)
	res.Nav.Append(testingpkg.FixtureStart.AddDate(0, 0, 2), 90)

	assert.Equal(t, 90.0, res.FinalNav())
	assert.InDelta(t, -0.1, res.TotalReturn(), 1e-12)
	assert.InDelta(t, 0.25, res.MaxDrawdown(), 1e-12)
}
