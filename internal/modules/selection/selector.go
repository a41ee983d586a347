// Package selection picks which simulated strategy the live account follows.
package selection

import (
	"github.com/aristath/portfolio-manager/internal/domain"
)

// Candidate is one strategy's NAV history offered to the selector
type Candidate struct {
	Name domain.StrategyName
	Nav  domain.NavHistory
}

// Selection is the selector's decision
type Selection struct {
	Strategy domain.StrategyName         `json:"strategy"`
	Scores   map[domain.StrategyName]int `json:"scores,omitempty"` // higher-high counts; nil when NAV was used
	ByNav    bool                        `json:"by_nav"`
}

// IsCash reports whether no strategy was selected
func (s Selection) IsCash() bool {
	return s.Strategy == domain.StrategyCash
}

// Selector ranks strategies by recent upward momentum
type Selector struct {
	lookback int
}

// NewSelector creates a selector counting higher highs over lookback days
func NewSelector(lookback int) *Selector {
	return &Selector{lookback: lookback}
}

// CountHigherHighs counts the points that exceed every earlier point
func CountHigherHighs(values []float64) int {
	if len(values) == 0 {
		return 0
	}
	count := 0
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			count++
			best = v
		}
	}
	return count
}

// Select picks a strategy as of date index asOf. With fewer than lookback
// NAV points the highest current NAV wins; otherwise the most higher highs
// over the last lookback points wins and zero momentum everywhere means
// CASH. Ties go to the first candidate.
func (s *Selector) Select(candidates []Candidate, asOf int) Selection {
	if len(candidates) == 0 || asOf < 0 {
		return Selection{Strategy: domain.StrategyCash}
	}

	if asOf+1 < s.lookback {
		best := candidates[0]
		bestNav := navAt(best, asOf)
		for _, c := range candidates[1:] {
			if v := navAt(c, asOf); v > bestNav {
				best, bestNav = c, v
			}
		}
		return Selection{Strategy: best.Name, ByNav: true}
	}

	scores := make(map[domain.StrategyName]int, len(candidates))
	bestName := domain.StrategyCash
	bestScore := 0
	for _, c := range candidates {
		score := CountHigherHighs(c.Nav.Window(asOf-s.lookback+1, asOf))
		scores[c.Name] = score
		if score > bestScore {
			bestName, bestScore = c.Name, score
		}
	}

	return Selection{Strategy: bestName, Scores: scores}
}

func navAt(c Candidate, i int) float64 {
	if i < c.Nav.Len() {
		return c.Nav.Values[i]
	}
	return c.Nav.Last()
}
