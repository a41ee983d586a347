// Package allocation turns instrument sets and indicator snapshots into
// normalized target weights.
package allocation

import (
	"math"

	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/pkg/formulas"
)

// SharpeSnapshot supplies Sharpe ratios for instruments at a fixed date.
type SharpeSnapshot interface {
	SharpeOf(symbol string) (float64, bool)
}

// SharpeMap is an in-memory SharpeSnapshot
type SharpeMap map[string]float64

// SharpeOf implements SharpeSnapshot
func (m SharpeMap) SharpeOf(symbol string) (float64, bool) {
	v, ok := m[symbol]
	return v, ok
}

// Config holds the allocation floors
type Config struct {
	SharpeFloor     float64 // substituted for missing or non-positive Sharpe values
	AllocationFloor float64 // per-instrument weight floor, capped at 1/N
}

// DefaultConfig returns the production floors
func DefaultConfig() Config {
	return Config{SharpeFloor: 0.01, AllocationFloor: 0.05}
}

// Calculator computes Sharpe-weighted allocations
type Calculator struct {
	cfg Config
}

// NewCalculator creates a new allocation calculator
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Allocate returns Sharpe-proportional weights, renormalized to sum to one,
// in which no instrument holds less than min(AllocationFloor, 1/N).
// An empty symbol set yields an empty map.
func (c *Calculator) Allocate(symbols []string, snapshot SharpeSnapshot) domain.AllocationMap {
	if len(symbols) == 0 {
		return domain.AllocationMap{}
	}

	scores := make(map[string]float64, len(symbols))
	total := 0.0
	for _, s := range symbols {
		score := c.FlooredSharpe(snapshot, s)
		scores[s] = score
		total += score
	}

	n := float64(len(symbols))
	raw := make(domain.AllocationMap, len(symbols))
	for _, s := range symbols {
		if total > 0 {
			raw[s] = scores[s] / total
		} else {
			raw[s] = 1 / n
		}
	}

	return applyFloor(raw, math.Min(c.cfg.AllocationFloor, 1/n))
}

// applyFloor lifts every weight below floor up to it and shrinks the others
// pro rata so the total stays one. Lifting can push further instruments
// under the floor, so it repeats until the floored set is stable.
func applyFloor(raw domain.AllocationMap, floor float64) domain.AllocationMap {
	floored := make(map[string]bool, len(raw))
	for {
		free := 1 - floor*float64(len(floored))
		freeRaw := 0.0
		for s, w := range raw {
			if !floored[s] {
				freeRaw += w
			}
		}

		changed := false
		for s, w := range raw {
			if floored[s] || freeRaw <= 0 {
				continue
			}
			if w/freeRaw*free < floor {
				floored[s] = true
				changed = true
			}
		}
		if changed {
			continue
		}

		out := make(domain.AllocationMap, len(raw))
		for s, w := range raw {
			switch {
			case floored[s]:
				out[s] = floor
			case freeRaw > 0:
				out[s] = w / freeRaw * free
			default:
				out[s] = free / float64(len(raw)-len(floored))
			}
		}
		return out.Normalize()
	}
}

// FlooredSharpe returns the instrument's Sharpe, or the floor when it is
// missing, undefined or non-positive.
func (c *Calculator) FlooredSharpe(snapshot SharpeSnapshot, symbol string) float64 {
	if snapshot == nil {
		return c.cfg.SharpeFloor
	}
	v, ok := snapshot.SharpeOf(symbol)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return c.cfg.SharpeFloor
	}
	return v
}

// AverageSharpe is the mean floored Sharpe of a tier; an empty tier
// averages to the floor.
func (c *Calculator) AverageSharpe(symbols []string, snapshot SharpeSnapshot) float64 {
	if len(symbols) == 0 {
		return c.cfg.SharpeFloor
	}
	values := make([]float64, len(symbols))
	for i, s := range symbols {
		values[i] = c.FlooredSharpe(snapshot, s)
	}
	return formulas.Mean(values)
}

// EqualWeight splits capital evenly across symbols
func EqualWeight(symbols []string) domain.AllocationMap {
	out := make(domain.AllocationMap, len(symbols))
	for _, s := range symbols {
		out[s] = 1 / float64(len(symbols))
	}
	return out
}
