package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sumTiers(w TierWeights) float64 {
	return w.Core + w.Speculative + w.Asymmetric
}

func TestTierSplit(t *testing.T) {
	limits := DefaultTierLimits()

	tests := []struct {
		name             string
		core, spec, asym float64
		want             TierWeights
	}{
		{
			name: "asymmetric below midpoint is unfunded",
			core: 2, spec: 1, asym: 1,
			want: TierWeights{Core: 2.0 / 3, Speculative: 1.0 / 3},
		},
		{
			name: "asymmetric below absolute floor is unfunded",
			core: 0.1, spec: 0.1, asym: 0.4,
			// speculative proportional share 0.5 is capped at 0.4
			want: TierWeights{Core: 0.6, Speculative: 0.4},
		},
		{
			name: "funded asymmetric doubled, capped, core floor restored",
			core: 1, spec: 1, asym: 2,
			// asym 0.5*2 capped at 0.3; spec 0.35, core 0.35 -> core lifted to 0.5 from spec
			want: TierWeights{Core: 0.5, Speculative: 0.2, Asymmetric: 0.3},
		},
		{
			name: "funded asymmetric with small speculative tier",
			core: 2, spec: 1, asym: 2.1,
			want: TierWeights{Core: 0.5, Speculative: 0.2, Asymmetric: 0.3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TierSplit(tt.core, tt.spec, tt.asym, limits)

			assert.InDelta(t, tt.want.Core, got.Core, 1e-9)
			assert.InDelta(t, tt.want.Speculative, got.Speculative, 1e-9)
			assert.InDelta(t, tt.want.Asymmetric, got.Asymmetric, 1e-9)
			assert.InDelta(t, 1.0, sumTiers(got), 1e-9)
		})
	}
}

func TestTierSplit_CoreFloorTakesFromSpeculativeFirst(t *testing.T) {
	// Loose limits so CORE falls under its floor before the caps bite.
	limits := TierLimits{CoreMin: 0.5, SpecMax: 0.9, AsymMax: 0.3, AsymSharpeFloor: 0.5}

	got := TierSplit(0.5, 4, 5, limits)

	assert.InDelta(t, 0.5, got.Core, 1e-9)
	assert.InDelta(t, 0.3, got.Asymmetric, 1e-9)
	assert.InDelta(t, 0.2, got.Speculative, 1e-9)
}

func TestTierSplit_ShortfallLargerThanSpeculativeClampsAtZero(t *testing.T) {
	limits := TierLimits{CoreMin: 0.9, SpecMax: 0.4, AsymMax: 0.3, AsymSharpeFloor: 0.5}

	got := TierSplit(1, 1, 4, limits)

	assert.InDelta(t, 0.9, got.Core, 1e-9)
	assert.Zero(t, got.Speculative)
	assert.InDelta(t, 0.1, got.Asymmetric, 1e-9)
	assert.True(t, got.AsymFunded())
	assert.InDelta(t, 1.0, sumTiers(got), 1e-9)
}

func TestTierSplit_DegenerateTotal(t *testing.T) {
	got := TierSplit(0, 0, 0, DefaultTierLimits())
	assert.Equal(t, TierWeights{Core: 1}, got)
}
