// Package domain provides core domain models and types.
package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Sentinel errors shared across packages.
var (
	// ErrNoPriceData is returned when no instrument in any bucket produced usable history.
	ErrNoPriceData = errors.New("no price data for any instrument")
	// ErrUnsortedSeries is returned when bar dates are not strictly increasing.
	ErrUnsortedSeries = errors.New("price series dates are not strictly increasing")
)

// WeightTolerance is the tolerance used when checking that weights sum to one.
const WeightTolerance = 1e-6

// DateLayout is the calendar date format used in persisted records.
const DateLayout = "2006-01-02"

// Bar is a single daily OHLCV observation.
type Bar struct {
	Date   time.Time `json:"date" msgpack:"d"`
	Open   float64   `json:"open" msgpack:"o"`
	High   float64   `json:"high" msgpack:"h"`
	Low    float64   `json:"low" msgpack:"l"`
	Close  float64   `json:"close" msgpack:"c"`
	Volume float64   `json:"volume" msgpack:"v"`
}

// PriceSeries is the bar history of one instrument plus derived indicators.
// Indicator slices are parallel to Bars; undefined points are NaN.
type PriceSeries struct {
	Symbol            string
	Bars              []Bar
	SMAShort          []float64
	SMALong           []float64
	Return            []float64
	RollingMeanReturn []float64
	RollingStdReturn  []float64
	Sharpe            []float64

	index map[time.Time]int
}

// NewPriceSeries validates bar ordering and builds the date index.
// Indicator slices are left for the caller to fill.
func NewPriceSeries(symbol string, bars []Bar) (*PriceSeries, error) {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Date.After(bars[i-1].Date) {
			return nil, fmt.Errorf("%s at %s: %w", symbol, bars[i].Date.Format(DateLayout), ErrUnsortedSeries)
		}
	}

	idx := make(map[time.Time]int, len(bars))
	for i, b := range bars {
		idx[DateKey(b.Date)] = i
	}

	return &PriceSeries{Symbol: symbol, Bars: bars, index: idx}, nil
}

// Len returns the number of bars
func (s *PriceSeries) Len() int {
	return len(s.Bars)
}

// IndexOf returns the bar index for a date
func (s *PriceSeries) IndexOf(date time.Time) (int, bool) {
	i, ok := s.index[DateKey(date)]
	return i, ok
}

// CloseAt returns the close on date
func (s *PriceSeries) CloseAt(date time.Time) (float64, bool) {
	i, ok := s.IndexOf(date)
	if !ok {
		return 0, false
	}
	return s.Bars[i].Close, true
}

// SharpeAt returns the Sharpe ratio on date; ok is false when it is undefined.
func (s *PriceSeries) SharpeAt(date time.Time) (float64, bool) {
	i, ok := s.IndexOf(date)
	if !ok || i >= len(s.Sharpe) {
		return 0, false
	}
	v := s.Sharpe[i]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Dates returns the bar dates in order
func (s *PriceSeries) Dates() []time.Time {
	out := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = DateKey(b.Date)
	}
	return out
}

// Closes returns the closing prices in order
func (s *PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// DateKey truncates t to a UTC calendar day.
func DateKey(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StrategyName identifies a simulated strategy or the cash selection.
type StrategyName string

const (
	StrategyBuyHold  StrategyName = "BUY_HOLD"
	StrategyTactical StrategyName = "TACTICAL"
	StrategySpec     StrategyName = "SPEC"
	StrategyAsym     StrategyName = "ASYM"
	// StrategyCash means no strategy shows momentum; hold no positions.
	StrategyCash StrategyName = "CASH"
)

// AllStrategies lists the simulated strategies in selection order.
var AllStrategies = []StrategyName{StrategyBuyHold, StrategyTactical, StrategySpec, StrategyAsym}

// NavHistory is a day-by-day net asset value series.
type NavHistory struct {
	Dates  []time.Time `json:"dates"`
	Values []float64   `json:"values"`
}

// Append adds one observation
func (h *NavHistory) Append(date time.Time, value float64) {
	h.Dates = append(h.Dates, date)
	h.Values = append(h.Values, value)
}

// Len returns the number of observations
func (h NavHistory) Len() int {
	return len(h.Values)
}

// Last returns the most recent value, or zero when empty.
func (h NavHistory) Last() float64 {
	if len(h.Values) == 0 {
		return 0
	}
	return h.Values[len(h.Values)-1]
}

// Window returns the values in [from, to] inclusive, clamped to the history.
func (h NavHistory) Window(from, to int) []float64 {
	if from < 0 {
		from = 0
	}
	if to >= len(h.Values) {
		to = len(h.Values) - 1
	}
	if from > to {
		return nil
	}
	return h.Values[from : to+1]
}

// AccountSnapshot is the brokerage account state at run time.
type AccountSnapshot struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}

// Position is a held instrument at the broker.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	CurrentPrice float64 `json:"current_price"`
}

// RiskState is the persisted drawdown tracker for the live account.
type RiskState struct {
	AbsolutePeak  float64    `json:"absolute_peak"`
	PeakDate      time.Time  `json:"peak_date"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// InCooldown reports whether today falls inside the cooldown window.
func (s RiskState) InCooldown(today time.Time) bool {
	return s.CooldownUntil != nil && !DateKey(today).After(DateKey(*s.CooldownUntil))
}

// Liquidation records a simulated drawdown exit.
type Liquidation struct {
	Date          time.Time `json:"date"`
	Drawdown      float64   `json:"drawdown"`
	Value         float64   `json:"value"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// SortedKeys returns the keys of a float map in ascending order.
func SortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
