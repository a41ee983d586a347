// Package risk implements the drawdown / cooldown state machine shared by the
// strategy simulators and the live account check.
package risk

import (
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/portfolio-manager/pkg/formulas"
)

// drawdownEpsilon lets a drawdown that equals the threshold up to float
// rounding still trigger.
const drawdownEpsilon = 1e-12

// State is the risk state of a portfolio
type State int

const (
	// StateActive allows tactical evaluation
	StateActive State = iota
	// StateCooldown holds cash until the cooldown window elapses
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateCooldown:
		return "COOLDOWN"
	}
	return "UNKNOWN"
}

// Event is what the machine tells the simulator to do for the observed day
type Event int

const (
	// EventEvaluate means the portfolio is active; run tactical evaluation
	EventEvaluate Event = iota
	// EventHold means the portfolio is in cooldown; carry cash forward
	EventHold
	// EventLiquidate means the drawdown threshold was breached; sell everything
	EventLiquidate
	// EventReenter means cooldown just elapsed; buy the benchmarks with the cash
	EventReenter
)

func (e Event) String() string {
	switch e {
	case EventEvaluate:
		return "evaluate"
	case EventHold:
		return "hold"
	case EventLiquidate:
		return "liquidate"
	case EventReenter:
		return "reenter"
	}
	return "unknown"
}

// Config parameterizes the machine
type Config struct {
	DrawdownThreshold float64 // fractional decline from peak that triggers liquidation
	LookbackDays      int     // K: the minimum NAV over the last K days is tested
	CooldownDays      int     // days spent in cash after a liquidation
}

// Machine tracks the absolute NAV peak and the ACTIVE/COOLDOWN state over a
// day-by-day simulation. Observe must be called once per simulated day.
type Machine struct {
	cfg           Config
	state         State
	peak          float64
	cooldownUntil int
	navs          []float64
	lastDrawdown  float64
}

// NewMachine creates an ACTIVE machine whose peak starts at startingCapital
func NewMachine(cfg Config, startingCapital float64) *Machine {
	return &Machine{
		cfg:           cfg,
		state:         StateActive,
		peak:          startingCapital,
		cooldownUntil: -1,
	}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Peak returns the absolute peak NAV
func (m *Machine) Peak() float64 {
	return m.peak
}

// CooldownUntil returns the last day index of the cooldown, or -1 when active
func (m *Machine) CooldownUntil() int {
	return m.cooldownUntil
}

// LastDrawdown returns the drawdown that caused the most recent liquidation
func (m *Machine) LastDrawdown() float64 {
	return m.lastDrawdown
}

// Observe records the NAV of the next day and applies the transitions:
//
//	ACTIVE   → COOLDOWN when (peak − min(last K NAVs)) / peak ≥ threshold
//	COOLDOWN → ACTIVE   on the first day after cooldownUntil; peak := NAV
func (m *Machine) Observe(nav float64) Event {
	day := len(m.navs)
	m.navs = append(m.navs, nav)

	if m.state == StateCooldown {
		if day <= m.cooldownUntil {
			return EventHold
		}
		m.state = StateActive
		m.peak = nav
		m.cooldownUntil = -1
		return EventReenter
	}

	if nav > m.peak {
		m.peak = nav
	}

	k := m.cfg.LookbackDays
	if k > 0 && day >= k && nav > 0 && m.peak > 0 {
		dd := formulas.Drawdown(m.peak, floats.Min(m.navs[day-k+1:]))
		if dd >= m.cfg.DrawdownThreshold-drawdownEpsilon {
			m.state = StateCooldown
			m.cooldownUntil = day + m.cfg.CooldownDays
			m.lastDrawdown = dd
			return EventLiquidate
		}
	}

	return EventEvaluate
}
