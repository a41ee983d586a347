// Package formulas provides the statistical helpers shared by the indicator,
// allocation and backtest code.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// RollingMean returns the trailing mean over window values for every index.
// Indices without a full window, or whose window holds a NaN, are NaN.
func RollingMean(values []float64, window int) []float64 {
	return rolling(values, window, Mean)
}

// RollingStdDev returns the trailing sample standard deviation over window
// values for every index, NaN where the window is incomplete.
func RollingStdDev(values []float64, window int) []float64 {
	return rolling(values, window, StdDev)
}

func rolling(values []float64, window int, fn func([]float64) float64) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 0 {
		return out
	}

	for i := window - 1; i < len(values); i++ {
		w := values[i-window+1 : i+1]
		if floats.HasNaN(w) {
			continue
		}
		out[i] = fn(w)
	}
	return out
}
