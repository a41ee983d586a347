package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/portfolio-manager/internal/domain"
)

// StrategyConfig holds every tunable of the backtest and allocation engine.
// It is passed explicitly into each simulator; nothing is read from globals.
type StrategyConfig struct {
	StartingCapital float64 `yaml:"starting_capital"`
	BacktestDays    int     `yaml:"backtest_days"`   // calendar days of history simulated
	HistoryBuffer   int     `yaml:"history_buffer"`  // extra calendar days fetched for indicator warm-up
	SharpeLookback  int     `yaml:"sharpe_lookback"` // rolling window for mean/std of returns
	SMAShort        int     `yaml:"sma_short"`
	SMALong         int     `yaml:"sma_long"`
	PeriodsPerYear  int     `yaml:"periods_per_year"`
	WarmupDays      int     `yaml:"warmup_days"`
	ReturnLookback  int     `yaml:"return_lookback"` // CORE vs BENCHMARKS comparison window

	DrawdownThreshold  float64                         `yaml:"drawdown_threshold"`
	DrawdownThresholds map[domain.StrategyName]float64 `yaml:"drawdown_thresholds"` // per-strategy overrides
	DrawdownLookback   int                             `yaml:"drawdown_lookback"`
	CooldownDays       int                             `yaml:"cooldown_days"`
	LiveCooldownDays   int                             `yaml:"live_cooldown_days"` // calendar days

	MomentumLookback int `yaml:"momentum_lookback"`
	RefreshEvery     int `yaml:"refresh_every"`

	SharpeFloor     float64 `yaml:"sharpe_floor"`
	AllocationFloor float64 `yaml:"allocation_floor"`
	SpecAllocation  float64 `yaml:"spec_allocation"`
	AsymCoreMin     float64 `yaml:"asym_core_min"`
	AsymSpecMax     float64 `yaml:"asym_spec_max"`
	AsymAsymMax     float64 `yaml:"asym_asym_max"`
	AsymSharpeFloor float64 `yaml:"asym_sharpe_floor"`

	RebalanceTolerance float64 `yaml:"rebalance_tolerance"`
	BuyingPowerMargin  float64 `yaml:"buying_power_margin"`
	ShareDecimals      int32   `yaml:"share_decimals"`
}

// DefaultStrategyConfig returns the production parameters
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		StartingCapital: 100000,
		BacktestDays:    180,
		HistoryBuffer:   30,
		SharpeLookback:  45,
		SMAShort:        15,
		SMALong:         30,
		PeriodsPerYear:  252,
		WarmupDays:      30,
		ReturnLookback:  10,

		DrawdownThreshold: 0.05,
		DrawdownLookback:  5,
		CooldownDays:      5,
		LiveCooldownDays:  5,

		MomentumLookback: 20,
		RefreshEvery:     5,

		SharpeFloor:     0.01,
		AllocationFloor: 0.05,
		SpecAllocation:  0.15,
		AsymCoreMin:     0.50,
		AsymSpecMax:     0.40,
		AsymAsymMax:     0.30,
		AsymSharpeFloor: 0.5,

		RebalanceTolerance: 0.02,
		BuyingPowerMargin:  0.98,
		ShareDecimals:      0,
	}
}

// ThresholdFor returns the drawdown threshold used by a strategy
func (c StrategyConfig) ThresholdFor(name domain.StrategyName) float64 {
	if t, ok := c.DrawdownThresholds[name]; ok && t > 0 {
		return t
	}
	return c.DrawdownThreshold
}

// Validate rejects parameter combinations the engine cannot run with
func (c StrategyConfig) Validate() error {
	positiveInts := map[string]int{
		"backtest_days":     c.BacktestDays,
		"sharpe_lookback":   c.SharpeLookback,
		"sma_short":         c.SMAShort,
		"sma_long":          c.SMALong,
		"periods_per_year":  c.PeriodsPerYear,
		"return_lookback":   c.ReturnLookback,
		"drawdown_lookback": c.DrawdownLookback,
		"momentum_lookback": c.MomentumLookback,
	}
	for name, v := range positiveInts {
		if v <= 0 {
			return fmt.Errorf("strategy config: %s must be positive, got %d", name, v)
		}
	}
	if c.StartingCapital <= 0 {
		return fmt.Errorf("strategy config: starting_capital must be positive")
	}
	if c.CooldownDays < 0 || c.LiveCooldownDays < 0 || c.RefreshEvery < 0 || c.WarmupDays < 0 || c.HistoryBuffer < 0 {
		return fmt.Errorf("strategy config: day counts must not be negative")
	}
	if c.ShareDecimals < 0 {
		return fmt.Errorf("strategy config: share_decimals must not be negative")
	}

	fractions := map[string]float64{
		"drawdown_threshold":  c.DrawdownThreshold,
		"allocation_floor":    c.AllocationFloor,
		"spec_allocation":     c.SpecAllocation,
		"asym_core_min":       c.AsymCoreMin,
		"asym_spec_max":       c.AsymSpecMax,
		"asym_asym_max":       c.AsymAsymMax,
		"rebalance_tolerance": c.RebalanceTolerance,
		"buying_power_margin": c.BuyingPowerMargin,
	}
	for name, v := range fractions {
		if v < 0 || v > 1 {
			return fmt.Errorf("strategy config: %s must be within [0, 1], got %v", name, v)
		}
	}
	for name, v := range c.DrawdownThresholds {
		if v <= 0 || v > 1 {
			return fmt.Errorf("strategy config: drawdown threshold for %s must be within (0, 1]", name)
		}
	}
	if c.SharpeFloor <= 0 {
		return fmt.Errorf("strategy config: sharpe_floor must be positive")
	}
	return nil
}

// LoadStrategyFile reads YAML overrides on top of the defaults
func LoadStrategyFile(path string) (StrategyConfig, error) {
	cfg := DefaultStrategyConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read strategy config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse strategy config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
