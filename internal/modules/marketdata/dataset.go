package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-manager/internal/config"
	"github.com/aristath/portfolio-manager/internal/domain"
)

// Dataset is the read-only market data shared by all simulators of a run:
// one series per loaded instrument plus the dates every series has.
type Dataset struct {
	Series   map[string]*domain.PriceSeries
	Dates    []time.Time       // common dates, ascending, trimmed to the backtest window
	Excluded map[string]string // symbol → reason it was left out
}

// NewDataset builds a dataset from already-computed series. The common dates
// are the intersection of all series, keeping only the last backtestDays
// calendar days.
func NewDataset(series map[string]*domain.PriceSeries, backtestDays int) *Dataset {
	ds := &Dataset{
		Series:   series,
		Excluded: make(map[string]string),
	}
	ds.Dates = commonDates(series, backtestDays)
	return ds
}

func commonDates(series map[string]*domain.PriceSeries, backtestDays int) []time.Time {
	if len(series) == 0 {
		return nil
	}

	counts := make(map[time.Time]int)
	for _, s := range series {
		for _, d := range s.Dates() {
			counts[d]++
		}
	}

	dates := make([]time.Time, 0, len(counts))
	for d, n := range counts {
		if n == len(series) {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	if backtestDays > 0 && len(dates) > 0 {
		start := dates[len(dates)-1].AddDate(0, 0, -backtestDays)
		i := sort.Search(len(dates), func(i int) bool { return !dates[i].Before(start) })
		dates = dates[i:]
	}
	return dates
}

// Len returns the number of common dates
func (d *Dataset) Len() int {
	return len(d.Dates)
}

// Has reports whether symbol has usable data
func (d *Dataset) Has(symbol string) bool {
	_, ok := d.Series[symbol]
	return ok
}

// Available filters symbols down to those with data, preserving order
func (d *Dataset) Available(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if d.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

// Close returns the close of symbol on common date index day
func (d *Dataset) Close(symbol string, day int) (float64, bool) {
	s, ok := d.Series[symbol]
	if !ok || day < 0 || day >= len(d.Dates) {
		return 0, false
	}
	return s.CloseAt(d.Dates[day])
}

// LastCloses returns the close of every instrument on the final common date
func (d *Dataset) LastCloses() map[string]float64 {
	out := make(map[string]float64, len(d.Series))
	if len(d.Dates) == 0 {
		return out
	}
	last := len(d.Dates) - 1
	for symbol := range d.Series {
		if c, ok := d.Close(symbol, last); ok {
			out[symbol] = c
		}
	}
	return out
}

// SharpeAt returns a snapshot of every instrument's Sharpe on date index day
func (d *Dataset) SharpeAt(day int) Snapshot {
	return Snapshot{ds: d, day: day}
}

// Snapshot exposes the Sharpe ratios of one date to the allocation calculator
type Snapshot struct {
	ds  *Dataset
	day int
}

// SharpeOf returns the Sharpe of symbol; ok is false when undefined
func (s Snapshot) SharpeOf(symbol string) (float64, bool) {
	series, ok := s.ds.Series[symbol]
	if !ok || s.day < 0 || s.day >= len(s.ds.Dates) {
		return 0, false
	}
	return series.SharpeAt(s.ds.Dates[s.day])
}

// LoadDataset fetches every unique symbol of the buckets sequentially,
// computes indicators, and builds the common-date dataset. Instruments that
// fail to load or whose history does not cover the backtest window are
// excluded with a warning, so one short series never shrinks the common
// dates of the rest. ErrNoPriceData is returned only when nothing loads.
func LoadDataset(ctx context.Context, provider domain.MarketDataProvider, buckets domain.Buckets, cfg config.StrategyConfig, now time.Time, log zerolog.Logger) (*Dataset, error) {
	log = log.With().Str("component", "marketdata").Logger()

	to := domain.DateKey(now)
	from := to.AddDate(0, 0, -(cfg.BacktestDays + cfg.HistoryBuffer))
	windowStart := to.AddDate(0, 0, -cfg.BacktestDays)
	minBars := max(cfg.SharpeLookback, cfg.WarmupDays) + 1

	symbols := buckets.AllSymbols()
	log.Info().Int("symbols", len(symbols)).Str("from", from.Format(domain.DateLayout)).Msg("Loading market data")

	series := make(map[string]*domain.PriceSeries, len(symbols))
	excluded := make(map[string]string)
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bars, err := provider.GetDailyBars(ctx, symbol, from, to)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to fetch bars, excluding instrument")
			excluded[symbol] = err.Error()
			continue
		}
		if len(bars) == 0 {
			log.Warn().Str("symbol", symbol).Msg("No bars returned, excluding instrument")
			excluded[symbol] = "no data"
			continue
		}

		s, err := BuildSeries(symbol, bars, cfg)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Invalid bar series, excluding instrument")
			excluded[symbol] = err.Error()
			continue
		}
		if reason := insufficientHistory(s, windowStart, minBars); reason != "" {
			log.Warn().Str("symbol", symbol).Str("reason", reason).Msg("Insufficient history, excluding instrument")
			excluded[symbol] = reason
			continue
		}
		series[symbol] = s
		log.Debug().Str("symbol", symbol).Int("bars", s.Len()).Msg("Loaded")
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("loaded 0 of %d instruments: %w", len(symbols), domain.ErrNoPriceData)
	}

	ds := NewDataset(series, cfg.BacktestDays)
	ds.Excluded = excluded

	if len(ds.Dates) < cfg.BacktestDays/2 {
		log.Warn().Int("common_dates", len(ds.Dates)).Msg("Short common history")
	}
	if len(ds.Dates) > 0 {
		log.Info().
			Int("instruments", len(series)).
			Int("excluded", len(excluded)).
			Str("start", ds.Dates[0].Format(domain.DateLayout)).
			Str("end", ds.Dates[len(ds.Dates)-1].Format(domain.DateLayout)).
			Int("trading_days", len(ds.Dates)).
			Msg("Market data loaded")
	}

	return ds, nil
}

// insufficientHistory returns why s cannot join the common dates, or "" when
// it covers the backtest window with at least minBars bars.
func insufficientHistory(s *domain.PriceSeries, windowStart time.Time, minBars int) string {
	if s.Len() < minBars {
		return fmt.Sprintf("insufficient history: %d bars, need %d", s.Len(), minBars)
	}
	if first := s.Bars[0].Date; first.After(windowStart) {
		return fmt.Sprintf("insufficient history: starts %s, after window start %s",
			first.Format(domain.DateLayout), windowStart.Format(domain.DateLayout))
	}
	return ""
}
