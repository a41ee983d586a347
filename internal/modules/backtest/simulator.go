// Package backtest replays the four strategies day by day over the shared
// dataset and reports each one's NAV history and final allocation.
package backtest

import (
	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-manager/internal/config"
	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/internal/modules/allocation"
	"github.com/aristath/portfolio-manager/internal/modules/marketdata"
	"github.com/aristath/portfolio-manager/internal/modules/risk"
	"github.com/aristath/portfolio-manager/pkg/formulas"
)

// Strategy describes one simulated variant. The simulation loop is shared;
// variants differ only in these fields.
type Strategy struct {
	Name         domain.StrategyName
	Allocator    RiskOnAllocator // nil: buy and hold, no tactical switching
	RefreshEvery int             // re-run the allocator every N days while risk-on; 0 disables
	ManageRisk   bool
	Threshold    float64 // drawdown threshold when ManageRisk is set
}

// Result is the outcome of one simulation
type Result struct {
	Strategy     domain.StrategyName  `json:"strategy"`
	Nav          domain.NavHistory    `json:"nav"`
	Final        domain.AllocationMap `json:"final_allocation"`
	InCash       bool                 `json:"in_cash"`
	Liquidations []domain.Liquidation `json:"liquidations"`
}

// FinalNav returns the last NAV
func (r Result) FinalNav() float64 {
	return r.Nav.Last()
}

// TotalReturn returns the fractional return over the simulation
func (r Result) TotalReturn() float64 {
	if r.Nav.Len() == 0 {
		return 0
	}
	return formulas.TotalReturn(r.Nav.Values[0], r.Nav.Last())
}

// MaxDrawdown returns the worst peak-to-trough decline of the NAV
func (r Result) MaxDrawdown() float64 {
	if dd := formulas.CalculateMaxDrawdown(r.Nav.Values); dd != nil {
		return *dd
	}
	return 0
}

type mode int

const (
	modeRiskOff mode = iota // equal-weight BENCHMARKS
	modeRiskOn              // strategy allocator
	modeCash                // liquidated, waiting out the cooldown
)

// Simulator runs strategies over a dataset
type Simulator struct {
	cfg     config.StrategyConfig
	buckets domain.Buckets
	calc    *allocation.Calculator
	log     zerolog.Logger
}

// NewSimulator creates a simulator for one bucket set
func NewSimulator(cfg config.StrategyConfig, buckets domain.Buckets, log zerolog.Logger) *Simulator {
	return &Simulator{
		cfg:     cfg,
		buckets: buckets,
		calc:    calculatorFor(cfg),
		log:     log.With().Str("component", "backtest").Logger(),
	}
}

// Strategies returns the four variants in selection order
func (s *Simulator) Strategies() []Strategy {
	return []Strategy{
		NewBuyHold(),
		NewTactical(s.cfg, s.buckets),
		NewSpec(s.cfg, s.buckets),
		NewAsym(s.cfg, s.buckets),
	}
}

// RunAll simulates every strategy sequentially over the same dataset
func (s *Simulator) RunAll(ds *marketdata.Dataset) []Result {
	strategies := s.Strategies()
	results := make([]Result, 0, len(strategies))
	for _, strat := range strategies {
		results = append(results, s.Run(ds, strat))
	}
	return results
}

// Run simulates one strategy. With no more common dates than the warm-up
// window the result is a flat NAV at starting capital.
func (s *Simulator) Run(ds *marketdata.Dataset, strat Strategy) Result {
	capital := s.cfg.StartingCapital
	n := ds.Len()
	res := Result{Strategy: strat.Name, Final: domain.AllocationMap{}}

	benchmarks := ds.Available(s.buckets.Benchmarks.Symbols)
	warmup := max(s.cfg.SharpeLookback, s.cfg.WarmupDays)
	if n <= warmup || len(benchmarks) == 0 {
		for _, d := range ds.Dates {
			res.Nav.Append(d, capital)
		}
		res.InCash = true
		s.log.Warn().
			Str("strategy", string(strat.Name)).
			Int("dates", n).
			Int("warmup", warmup).
			Msg("Not enough history, strategy holds starting capital")
		return res
	}

	// initial weights use the warm-up date's Sharpe, shares are bought on the first date
	book := newPortfolio(ds, 0)
	book.buy(0, s.calc.Allocate(benchmarks, ds.SharpeAt(warmup)), capital)

	var machine *risk.Machine
	if strat.ManageRisk {
		machine = risk.NewMachine(risk.Config{
			DrawdownThreshold: strat.Threshold,
			LookbackDays:      s.cfg.DrawdownLookback,
			CooldownDays:      s.cfg.CooldownDays,
		}, capital)
	}

	core := ds.Available(s.buckets.Core.Symbols)
	evalFrom := max(s.cfg.ReturnLookback, s.cfg.SharpeLookback)
	current := modeRiskOff

	for day := 0; day < n; day++ {
		nav := book.value(day)
		res.Nav.Append(ds.Dates[day], nav)

		if machine == nil || strat.Allocator == nil {
			continue
		}

		switch machine.Observe(nav) {
		case risk.EventHold:
			continue
		case risk.EventLiquidate:
			book.liquidate(day)
			current = modeCash
			until := min(machine.CooldownUntil(), n-1)
			res.Liquidations = append(res.Liquidations, domain.Liquidation{
				Date:          ds.Dates[day],
				Drawdown:      machine.LastDrawdown(),
				Value:         nav,
				CooldownUntil: ds.Dates[until],
			})
			s.log.Debug().
				Str("strategy", string(strat.Name)).
				Str("date", ds.Dates[day].Format(domain.DateLayout)).
				Float64("drawdown", machine.LastDrawdown()).
				Msg("Simulated liquidation")
			continue
		case risk.EventReenter:
			book.rebalance(day, allocation.EqualWeight(benchmarks))
			current = modeRiskOff
			continue
		}

		if day < evalFrom || len(core) == 0 {
			continue
		}

		target := modeRiskOff
		if outperforms(ds, core, benchmarks, day, s.cfg.ReturnLookback) {
			target = modeRiskOn
		}

		refresh := target == modeRiskOn && strat.RefreshEvery > 0 && day%strat.RefreshEvery == 0
		if target == current && !refresh {
			continue
		}

		if target == modeRiskOn {
			book.rebalance(day, strat.Allocator.Allocate(ds, day))
		} else {
			book.rebalance(day, allocation.EqualWeight(benchmarks))
		}
		current = target
	}

	res.InCash = book.inCash()
	res.Final = book.weights(n - 1)

	s.log.Info().
		Str("strategy", string(strat.Name)).
		Float64("final_nav", res.FinalNav()).
		Float64("return_pct", res.TotalReturn()*100).
		Int("liquidations", len(res.Liquidations)).
		Bool("in_cash", res.InCash).
		Msg("Backtest complete")

	return res
}

// outperforms compares the equal-weighted price return of CORE against the
// benchmarks over lookback days.
func outperforms(ds *marketdata.Dataset, core, benchmarks []string, day, lookback int) bool {
	return basketReturn(ds, core, day, lookback) > basketReturn(ds, benchmarks, day, lookback)
}

func basketReturn(ds *marketdata.Dataset, symbols []string, day, lookback int) float64 {
	now, then := 0.0, 0.0
	for _, s := range symbols {
		p1, ok1 := ds.Close(s, day)
		p0, ok0 := ds.Close(s, day-lookback)
		if !ok1 || !ok0 {
			continue
		}
		now += p1
		then += p0
	}
	if then <= 0 {
		return 0
	}
	// the averages share a denominator, so the ratio of sums is the ratio of means
	return now/then - 1
}
