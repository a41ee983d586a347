package risk

import (
	"time"

	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/pkg/formulas"
)

// LiveDecision is the outcome of the live account drawdown check
type LiveDecision int

const (
	// LiveTrade means the account is active and may be rebalanced
	LiveTrade LiveDecision = iota
	// LiveLiquidate means the drawdown threshold was just breached
	LiveLiquidate
	// LiveCooldown means the account is inside a cooldown window
	LiveCooldown
)

func (d LiveDecision) String() string {
	switch d {
	case LiveTrade:
		return "trade"
	case LiveLiquidate:
		return "liquidate"
	case LiveCooldown:
		return "cooldown"
	}
	return "unknown"
}

// LiveConfig parameterizes the live check
type LiveConfig struct {
	DrawdownThreshold float64
	CooldownDays      int // calendar days
}

// LiveResult describes what EvaluateLive decided
type LiveResult struct {
	Decision LiveDecision
	Drawdown float64
	Resumed  bool // cooldown elapsed during this evaluation
}

// EvaluateLive runs the risk state machine against the persisted account
// state, mutating it in place. An expired cooldown returns the account to
// ACTIVE with the peak reset to current equity.
func EvaluateLive(state *domain.RiskState, equity float64, now time.Time, cfg LiveConfig) LiveResult {
	today := domain.DateKey(now)
	result := LiveResult{Decision: LiveTrade}

	if state.CooldownUntil != nil {
		if state.InCooldown(today) {
			result.Decision = LiveCooldown
			return result
		}
		state.CooldownUntil = nil
		state.AbsolutePeak = equity
		state.PeakDate = today
		result.Resumed = true
	}

	if state.AbsolutePeak <= 0 || equity > state.AbsolutePeak {
		state.AbsolutePeak = equity
		state.PeakDate = today
	}

	result.Drawdown = formulas.Drawdown(state.AbsolutePeak, equity)
	if result.Drawdown >= cfg.DrawdownThreshold-drawdownEpsilon {
		until := today.AddDate(0, 0, cfg.CooldownDays)
		state.CooldownUntil = &until
		result.Decision = LiveLiquidate
	}

	return result
}
