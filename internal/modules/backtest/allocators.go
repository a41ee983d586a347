package backtest

import (
	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/internal/modules/allocation"
	"github.com/aristath/portfolio-manager/internal/modules/marketdata"
)

// RiskOnAllocator produces the target weights a strategy holds while CORE
// outperforms the benchmarks.
type RiskOnAllocator interface {
	Allocate(ds *marketdata.Dataset, day int) domain.AllocationMap
}

// coreAllocator holds CORE Sharpe-weighted (TACTICAL)
type coreAllocator struct {
	calc *allocation.Calculator
	core []string
}

func (a coreAllocator) Allocate(ds *marketdata.Dataset, day int) domain.AllocationMap {
	return a.calc.Allocate(ds.Available(a.core), ds.SharpeAt(day))
}

// satelliteAllocator holds CORE plus a fixed SPECULATIVE share (SPEC)
type satelliteAllocator struct {
	calc  *allocation.Calculator
	core  []string
	spec  []string
	share float64
}

func (a satelliteAllocator) Allocate(ds *marketdata.Dataset, day int) domain.AllocationMap {
	snapshot := ds.SharpeAt(day)
	core := a.calc.Allocate(ds.Available(a.core), snapshot)

	spec := ds.Available(a.spec)
	if len(spec) == 0 {
		return core
	}
	return core.Scale(1 - a.share).Merge(a.calc.Allocate(spec, snapshot).Scale(a.share))
}

// tierAllocator splits capital across CORE, SPECULATIVE and ASYMMETRIC by
// average tier Sharpe (ASYM). Unfunded or empty tiers fold into CORE.
type tierAllocator struct {
	calc   *allocation.Calculator
	core   []string
	spec   []string
	asym   []string
	limits allocation.TierLimits
}

func (a tierAllocator) Allocate(ds *marketdata.Dataset, day int) domain.AllocationMap {
	snapshot := ds.SharpeAt(day)
	core := ds.Available(a.core)
	spec := ds.Available(a.spec)
	asym := ds.Available(a.asym)

	split := allocation.TierSplit(
		a.calc.AverageSharpe(core, snapshot),
		a.calc.AverageSharpe(spec, snapshot),
		a.calc.AverageSharpe(asym, snapshot),
		a.limits,
	)

	coreShare := split.Core
	out := domain.AllocationMap{}
	if len(spec) > 0 && split.Speculative > 0 {
		out = out.Merge(a.calc.Allocate(spec, snapshot).Scale(split.Speculative))
	} else {
		coreShare += split.Speculative
	}
	if len(asym) > 0 && split.Asymmetric > 0 {
		out = out.Merge(a.calc.Allocate(asym, snapshot).Scale(split.Asymmetric))
	} else {
		coreShare += split.Asymmetric
	}

	return out.Merge(a.calc.Allocate(core, snapshot).Scale(coreShare))
}
