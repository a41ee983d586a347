package domain

import (
	"fmt"
	"math"
)

// AllocationMap maps an instrument symbol to a non-negative portfolio weight.
type AllocationMap map[string]float64

// Sum returns the total weight
func (a AllocationMap) Sum() float64 {
	total := 0.0
	for _, w := range a {
		total += w
	}
	return total
}

// Symbols returns the symbols in ascending order
func (a AllocationMap) Symbols() []string {
	return SortedKeys(a)
}

// Normalize returns a copy whose weights sum to one. A map with no positive
// weight normalizes to equal weights.
func (a AllocationMap) Normalize() AllocationMap {
	out := make(AllocationMap, len(a))
	total := a.Sum()
	if total <= 0 {
		for s := range a {
			out[s] = 1 / float64(len(a))
		}
		return out
	}
	for s, w := range a {
		out[s] = w / total
	}
	return out
}

// Scale returns a copy with every weight multiplied by factor
func (a AllocationMap) Scale(factor float64) AllocationMap {
	out := make(AllocationMap, len(a))
	for s, w := range a {
		out[s] = w * factor
	}
	return out
}

// Merge adds the weights of other into a copy of a.
func (a AllocationMap) Merge(other AllocationMap) AllocationMap {
	out := make(AllocationMap, len(a)+len(other))
	for s, w := range a {
		out[s] += w
	}
	for s, w := range other {
		out[s] += w
	}
	return out
}

// Validate checks the non-negativity and sum-to-one invariants.
func (a AllocationMap) Validate() error {
	if len(a) == 0 {
		return nil
	}
	for s, w := range a {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("invalid weight %v for %s", w, s)
		}
	}
	if sum := a.Sum(); math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("weights sum to %.8f, want 1", sum)
	}
	return nil
}
