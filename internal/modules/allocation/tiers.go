package allocation

import "math"

// TierLimits bounds the three-tier CORE / SPECULATIVE / ASYMMETRIC split.
type TierLimits struct {
	CoreMin         float64 // CORE never drops below this share
	SpecMax         float64 // SPECULATIVE cap
	AsymMax         float64 // ASYMMETRIC cap once funded
	AsymSharpeFloor float64 // ASYMMETRIC average Sharpe must exceed this to be funded
}

// DefaultTierLimits returns the production limits
func DefaultTierLimits() TierLimits {
	return TierLimits{CoreMin: 0.50, SpecMax: 0.40, AsymMax: 0.30, AsymSharpeFloor: 0.5}
}

// TierWeights is the capital share of each tier; the shares sum to one.
type TierWeights struct {
	Core        float64 `json:"core"`
	Speculative float64 `json:"speculative"`
	Asymmetric  float64 `json:"asymmetric"`
}

// AsymFunded reports whether the asymmetric tier received capital
func (w TierWeights) AsymFunded() bool {
	return w.Asymmetric > 0
}

// TierSplit derives tier shares from the tiers' average Sharpe ratios.
//
// ASYMMETRIC is funded only when its average beats the midpoint of the
// other two and the absolute floor; its proportional share is then doubled
// and capped. SPECULATIVE takes its proportional part of the remainder up to
// its cap. CORE keeps the rest and is floored at CoreMin, taking the
// shortfall from SPECULATIVE first and then ASYMMETRIC, never below zero.
func TierSplit(avgCore, avgSpec, avgAsym float64, limits TierLimits) TierWeights {
	total := avgCore + avgSpec + avgAsym
	if total <= 0 || math.IsNaN(total) {
		return TierWeights{Core: 1}
	}

	rawCore := avgCore / total
	rawSpec := avgSpec / total
	rawAsym := avgAsym / total

	asym := 0.0
	midpoint := (avgCore + avgSpec) / 2
	if avgAsym > midpoint && avgAsym > limits.AsymSharpeFloor {
		asym = math.Min(rawAsym*2, limits.AsymMax)
	}

	remaining := 1 - asym
	spec := 0.0
	if rawCore+rawSpec > 0 {
		spec = math.Min(rawSpec/(rawCore+rawSpec)*remaining, limits.SpecMax)
	}
	core := remaining - spec

	if core < limits.CoreMin {
		shortfall := limits.CoreMin - core
		core = limits.CoreMin
		if spec >= shortfall {
			spec -= shortfall
		} else {
			asym = math.Max(0, asym-(shortfall-spec))
			spec = 0
		}
	}

	// Clamping can leave the shares short of one; CORE absorbs the slack.
	if slack := 1 - core - spec - asym; slack > 0 {
		core += slack
	}

	return TierWeights{Core: core, Speculative: spec, Asymmetric: asym}
}
