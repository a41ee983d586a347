package backtest

import (
	"github.com/aristath/portfolio-manager/internal/config"
	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/internal/modules/allocation"
)

func calculatorFor(cfg config.StrategyConfig) *allocation.Calculator {
	return allocation.NewCalculator(allocation.Config{
		SharpeFloor:     cfg.SharpeFloor,
		AllocationFloor: cfg.AllocationFloor,
	})
}

// NewBuyHold holds the Sharpe-weighted benchmarks forever with no risk management
func NewBuyHold() Strategy {
	return Strategy{Name: domain.StrategyBuyHold}
}

// NewTactical rotates between Sharpe-weighted CORE and equal-weight benchmarks
func NewTactical(cfg config.StrategyConfig, buckets domain.Buckets) Strategy {
	return Strategy{
		Name: domain.StrategyTactical,
		Allocator: coreAllocator{
			calc: calculatorFor(cfg),
			core: buckets.Core.Symbols,
		},
		ManageRisk: true,
		Threshold:  cfg.ThresholdFor(domain.StrategyTactical),
	}
}

// NewSpec is TACTICAL with a fixed SPECULATIVE sleeve, refreshed periodically
func NewSpec(cfg config.StrategyConfig, buckets domain.Buckets) Strategy {
	return Strategy{
		Name: domain.StrategySpec,
		Allocator: satelliteAllocator{
			calc:  calculatorFor(cfg),
			core:  buckets.Core.Symbols,
			spec:  buckets.Speculative.Symbols,
			share: cfg.SpecAllocation,
		},
		RefreshEvery: cfg.RefreshEvery,
		ManageRisk:   true,
		Threshold:    cfg.ThresholdFor(domain.StrategySpec),
	}
}

// NewAsym is TACTICAL with a three-tier Sharpe-driven split, refreshed periodically
func NewAsym(cfg config.StrategyConfig, buckets domain.Buckets) Strategy {
	return Strategy{
		Name: domain.StrategyAsym,
		Allocator: tierAllocator{
			calc: calculatorFor(cfg),
			core: buckets.Core.Symbols,
			spec: buckets.Speculative.Symbols,
			asym: buckets.Asymmetric.Symbols,
			limits: allocation.TierLimits{
				CoreMin:         cfg.AsymCoreMin,
				SpecMax:         cfg.AsymSpecMax,
				AsymMax:         cfg.AsymAsymMax,
				AsymSharpeFloor: cfg.AsymSharpeFloor,
			},
		},
		RefreshEvery: cfg.RefreshEvery,
		ManageRisk:   true,
		Threshold:    cfg.ThresholdFor(domain.StrategyAsym),
	}
}
