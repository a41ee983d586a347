package formulas

import "math"

// TradingDaysPerYear is the annualization factor for daily data.
const TradingDaysPerYear = 252

// AnnualizedSharpe converts a periodic mean/std pair into an annualized
// Sharpe ratio (zero risk-free rate). ok is false when the ratio is undefined.
func AnnualizedSharpe(meanReturn, stdDev float64, periodsPerYear int) (float64, bool) {
	if math.IsNaN(meanReturn) || math.IsNaN(stdDev) || stdDev == 0 || periodsPerYear <= 0 {
		return math.NaN(), false
	}
	return meanReturn / stdDev * math.Sqrt(float64(periodsPerYear)), true
}

// RollingSharpe computes an annualized Sharpe value per index from rolling
// mean and std series of equal length. Undefined points are NaN.
func RollingSharpe(rollingMean, rollingStd []float64, periodsPerYear int) []float64 {
	out := make([]float64, len(rollingMean))
	for i := range out {
		if i >= len(rollingStd) {
			out[i] = math.NaN()
			continue
		}
		out[i], _ = AnnualizedSharpe(rollingMean[i], rollingStd[i], periodsPerYear)
	}
	return out
}
