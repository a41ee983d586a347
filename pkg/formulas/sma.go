package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// SMASeries returns the simple moving average of closes for every index.
// Indices before the first full window are NaN.
func SMASeries(closes []float64, length int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if length <= 0 || len(closes) < length {
		return out
	}

	sma := talib.Sma(closes, length)
	for i := length - 1; i < len(closes) && i < len(sma); i++ {
		out[i] = sma[i]
	}
	return out
}

// PercentChange returns closes[i]/closes[i-1] - 1 aligned with closes.
// Index 0, and any index following a zero price, is NaN.
func PercentChange(closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		if i == 0 || closes[i-1] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = closes[i]/closes[i-1] - 1
	}
	return out
}
