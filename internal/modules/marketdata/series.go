// Package marketdata turns raw daily bars into indicator-bearing price series
// and assembles the common-date dataset every simulator runs over.
package marketdata

import (
	"github.com/aristath/portfolio-manager/internal/config"
	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/pkg/formulas"
)

// BuildSeries validates bar ordering and derives the indicators:
// SMA short/long, daily returns, rolling mean/std of returns over
// SharpeLookback, and the annualized Sharpe ratio.
func BuildSeries(symbol string, bars []domain.Bar, cfg config.StrategyConfig) (*domain.PriceSeries, error) {
	series, err := domain.NewPriceSeries(symbol, bars)
	if err != nil {
		return nil, err
	}

	closes := series.Closes()
	series.SMAShort = formulas.SMASeries(closes, cfg.SMAShort)
	series.SMALong = formulas.SMASeries(closes, cfg.SMALong)
	series.Return = formulas.PercentChange(closes)
	series.RollingMeanReturn = formulas.RollingMean(series.Return, cfg.SharpeLookback)
	series.RollingStdReturn = formulas.RollingStdDev(series.Return, cfg.SharpeLookback)
	series.Sharpe = formulas.RollingSharpe(series.RollingMeanReturn, series.RollingStdReturn, cfg.PeriodsPerYear)

	return series, nil
}
