package risk

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() Config {
	return Config{DrawdownThreshold: 0.05, LookbackDays: 5, CooldownDays: 5}
}

func TestMachine_LiquidatesOnThresholdDay(t *testing.T) {
	m := NewMachine(defaultConfig(), 100)

	for day := 0; day < 5; day++ {
		assert.Equal(t, EventEvaluate, m.Observe(100), "day %d", day)
	}
	// 4.99% below peak
	assert.Equal(t, EventEvaluate, m.Observe(95.01))
	assert.Equal(t, StateActive, m.State())

	// exactly 5% below peak
	assert.Equal(t, EventLiquidate, m.Observe(95))
	assert.Equal(t, StateCooldown, m.State())
	assert.Equal(t, 11, m.CooldownUntil())
	assert.InDelta(t, 0.05, m.LastDrawdown(), 1e-9)
	assert.Equal(t, 100.0, m.Peak())
}

func TestMachine_NoEvaluationBeforeLookback(t *testing.T) {
	m := NewMachine(defaultConfig(), 100)

	assert.Equal(t, EventEvaluate, m.Observe(100))
	assert.Equal(t, EventEvaluate, m.Observe(100))
	assert.Equal(t, EventEvaluate, m.Observe(100))
	// deep drop before K days of history
	assert.Equal(t, EventEvaluate, m.Observe(80))
	assert.Equal(t, EventEvaluate, m.Observe(85))
	// day 5: the window now covers days 1..5 and includes the 80
	assert.Equal(t, EventLiquidate, m.Observe(99))
}

func TestMachine_CooldownAndReentry(t *testing.T) {
	m := NewMachine(defaultConfig(), 100)
	for i := 0; i < 6; i++ {
		m.Observe(100)
	}
	require.Equal(t, EventLiquidate, m.Observe(90)) // day 6

	for day := 7; day <= 11; day++ {
		assert.Equal(t, EventHold, m.Observe(90), "day %d", day)
		assert.Equal(t, StateCooldown, m.State())
	}

	assert.Equal(t, EventReenter, m.Observe(90)) // day 12
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 90.0, m.Peak())
	assert.Equal(t, -1, m.CooldownUntil())

	// re-entry happens once
	assert.Equal(t, EventEvaluate, m.Observe(90))
	assert.Equal(t, EventEvaluate, m.Observe(91))
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, 91.0, m.Peak())
}

func TestMachine_PeakIsMonotoneWhileActive(t *testing.T) {
	cfg := Config{DrawdownThreshold: 1.0, LookbackDays: 5, CooldownDays: 5}
	m := NewMachine(cfg, 100)
	rng := rand.New(rand.NewSource(7))

	nav := 100.0
	prev := m.Peak()
	for i := 0; i < 500; i++ {
		nav *= 1 + (rng.Float64()-0.5)*0.04
		assert.Equal(t, EventEvaluate, m.Observe(nav))
		assert.GreaterOrEqual(t, m.Peak(), prev)
		assert.GreaterOrEqual(t, m.Peak(), nav)
		prev = m.Peak()
	}
}

func TestMachine_ZeroNavNeverTriggers(t *testing.T) {
	m := NewMachine(defaultConfig(), 0)
	for i := 0; i < 10; i++ {
		assert.Equal(t, EventEvaluate, m.Observe(0))
	}
}

func TestStateAndEventStrings(t *testing.T) {
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "COOLDOWN", StateCooldown.String())
	assert.Equal(t, "liquidate", EventLiquidate.String())
	assert.Equal(t, "reenter", EventReenter.String())
	assert.Equal(t, "cooldown", LiveCooldown.String())
}
