package formulas

// Drawdown returns the fractional decline of value from peak (0.05 = 5%).
// A non-positive peak yields zero.
func Drawdown(peak, value float64) float64 {
	if peak <= 0 {
		return 0
	}
	return (peak - value) / peak
}

// CalculateMaxDrawdown calculates the maximum drawdown of a value series as a
// positive fraction, or nil when fewer than two points exist.
func CalculateMaxDrawdown(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if dd := Drawdown(peak, v); dd > maxDrawdown {
			maxDrawdown = dd
		}
	}

	return &maxDrawdown
}

// TotalReturn returns end/start - 1, or zero when start is not positive.
func TotalReturn(start, end float64) float64 {
	if start <= 0 {
		return 0
	}
	return end/start - 1
}
