package testing

import (
	"math"
	"time"

	"github.com/aristath/portfolio-manager/internal/domain"
)

// FixtureStart is the first trading day used by generated fixtures
var FixtureStart = time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)

// TradingDays returns n consecutive weekdays starting at start
func TradingDays(start time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	d := domain.DateKey(start)
	for len(days) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days = append(days, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return days
}

// BarsFromCloses builds bars whose OHLC all equal the given closes
func BarsFromCloses(dates []time.Time, closes []float64) []domain.Bar {
	n := len(dates)
	if len(closes) < n {
		n = len(closes)
	}
	bars := make([]domain.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = domain.Bar{
			Date:   dates[i],
			Open:   closes[i],
			High:   closes[i],
			Low:    closes[i],
			Close:  closes[i],
			Volume: 1_000_000,
		}
	}
	return bars
}

// GeometricCloses returns prices compounding at dailyReturn
func GeometricCloses(start float64, dailyReturn float64, n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = start * math.Pow(1+dailyReturn, float64(i))
	}
	return closes
}

// WavyCloses returns a trending price with a deterministic oscillation so
// rolling volatility is never zero.
func WavyCloses(start float64, dailyReturn float64, amplitude float64, n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		trend := start * math.Pow(1+dailyReturn, float64(i))
		closes[i] = trend * (1 + amplitude*math.Sin(float64(i)*0.7))
	}
	return closes
}

// NewBucketFixture returns a small universe with every bucket populated
func NewBucketFixture() domain.Buckets {
	b, err := domain.NewBuckets(map[domain.BucketName][]string{
		domain.BucketBenchmarks:  {"SPY", "QQQ"},
		domain.BucketCore:        {"AAPL", "MSFT"},
		domain.BucketSpeculative: {"PLTR"},
		domain.BucketAsymmetric:  {"IONQ"},
	})
	if err != nil {
		panic(err)
	}
	return b
}
