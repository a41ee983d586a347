// Package services provides the run orchestration shared by the CLI, the
// scheduler and the status API.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/portfolio-manager/internal/config"
	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/internal/modules/backtest"
	"github.com/aristath/portfolio-manager/internal/modules/journal"
	"github.com/aristath/portfolio-manager/internal/modules/marketdata"
	"github.com/aristath/portfolio-manager/internal/modules/rebalancing"
	"github.com/aristath/portfolio-manager/internal/modules/risk"
	"github.com/aristath/portfolio-manager/internal/modules/selection"
	"github.com/aristath/portfolio-manager/internal/modules/state"
)

// dryRunStatus is the order status recorded when nothing was sent
const dryRunStatus = "dry_run"

// Broker reads the account and places orders
type Broker interface {
	domain.BrokerClient
	domain.OrderExecutor
}

// MarketClock reports whether the exchange is open
type MarketClock interface {
	IsMarketOpen(ctx context.Context) (bool, error)
}

// RunJournal stores finished runs
type RunJournal interface {
	Record(ctx context.Context, run *journal.Run) error
}

// Backuper copies durable files off-site after a run
type Backuper interface {
	Backup(ctx context.Context) error
}

// RunReport is everything a run decided and did
type RunReport struct {
	RunID      string                 `json:"run_id"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	DryRun     bool                   `json:"dry_run"`
	Status     journal.Status         `json:"status"`
	Account    domain.AccountSnapshot `json:"account"`
	Drawdown   float64                `json:"drawdown"`
	Decision   string                 `json:"risk_decision"`
	Excluded   map[string]string      `json:"excluded,omitempty"`
	Results    []backtest.Result      `json:"-"`
	Selection  *selection.Selection   `json:"selection,omitempty"`
	Targets    domain.AllocationMap   `json:"targets,omitempty"`
	Plan       *rebalancing.Plan      `json:"plan,omitempty"`
	Orders     []journal.OrderRecord  `json:"orders,omitempty"`
}

// PortfolioManager runs the daily pipeline: data, simulation, selection,
// risk and rebalancing.
type PortfolioManager struct {
	cfg      config.StrategyConfig
	lockPath string
	buckets  domain.BucketSource
	prices   domain.MarketDataProvider
	broker   Broker
	store    *state.Store
	journal  RunJournal
	clock    MarketClock // optional
	backup   Backuper    // optional
	now      func() time.Time
	log      zerolog.Logger
}

// NewPortfolioManager creates a new portfolio manager
func NewPortfolioManager(
	cfg config.StrategyConfig,
	lockPath string,
	buckets domain.BucketSource,
	prices domain.MarketDataProvider,
	broker Broker,
	store *state.Store,
	runJournal RunJournal,
	log zerolog.Logger,
) *PortfolioManager {
	return &PortfolioManager{
		cfg:      cfg,
		lockPath: lockPath,
		buckets:  buckets,
		prices:   prices,
		broker:   broker,
		store:    store,
		journal:  runJournal,
		now:      time.Now,
		log:      log.With().Str("service", "portfolio_manager").Logger(),
	}
}

// SetMarketClock enables the market-hours gate for live runs
func (m *PortfolioManager) SetMarketClock(clock MarketClock) {
	m.clock = clock
}

// SetBackup enables the post-run backup
func (m *PortfolioManager) SetBackup(b Backuper) {
	m.backup = b
}

// Run executes one pipeline run. dryRun computes and journals everything
// but sends nothing to the broker. Only lock contention, missing buckets,
// a total absence of price data, broker account failures and state write
// failures are returned as errors; failed runs are still journaled.
func (m *PortfolioManager) Run(ctx context.Context, dryRun bool) (*RunReport, error) {
	lock, err := state.AcquireLock(m.lockPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.log.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	report := &RunReport{StartedAt: m.now().UTC(), DryRun: dryRun}
	m.log.Info().Bool("dry_run", dryRun).Msg("Portfolio manager run started")

	runErr := m.run(ctx, report)
	if runErr != nil {
		report.Status = journal.StatusFailed
	}
	report.FinishedAt = m.now().UTC()

	m.record(ctx, report, runErr)
	m.runBackup(ctx)

	if runErr != nil {
		m.log.Error().Err(runErr).Msg("Portfolio manager run failed")
		return report, runErr
	}

	m.log.Info().
		Str("status", string(report.Status)).
		Str("run_id", report.RunID).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Portfolio manager run complete")
	return report, nil
}

func (m *PortfolioManager) run(ctx context.Context, report *RunReport) error {
	now := m.now()

	// Phase 1: buckets
	buckets, err := m.buckets.LoadBuckets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load buckets: %w", err)
	}

	// Phase 2: market data
	ds, err := marketdata.LoadDataset(ctx, m.prices, buckets, m.cfg, now, m.log)
	if err != nil {
		return fmt.Errorf("failed to load market data: %w", err)
	}
	report.Excluded = ds.Excluded

	// Phase 3: account
	account, err := m.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	report.Account = account
	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to get positions: %w", err)
	}
	m.log.Info().
		Float64("equity", account.Equity).
		Float64("cash", account.Cash).
		Int("positions", len(positions)).
		Msg("Account loaded")

	// Phase 4: live risk check
	st := m.store.Load()
	live := risk.EvaluateLive(&st.Risk, account.Equity, now, risk.LiveConfig{
		DrawdownThreshold: m.cfg.DrawdownThreshold,
		CooldownDays:      m.cfg.LiveCooldownDays,
	})
	report.Drawdown = live.Drawdown
	report.Decision = live.Decision.String()
	if live.Resumed {
		m.log.Info().Float64("peak", st.Risk.AbsolutePeak).Msg("Cooldown ended, resuming trading")
	}

	if live.Decision == risk.LiveCooldown {
		m.log.Info().Time("until", *st.Risk.CooldownUntil).Msg("In cooldown, holding cash")
		report.Status = journal.StatusCooldown
		return m.saveState(st)
	}

	// Phase 5: simulations
	sim := backtest.NewSimulator(m.cfg, buckets, m.log)
	report.Results = sim.RunAll(ds)
	for _, r := range report.Results {
		m.log.Info().
			Str("strategy", string(r.Strategy)).
			Float64("final_nav", r.FinalNav()).
			Float64("total_return", r.TotalReturn()).
			Int("liquidations", len(r.Liquidations)).
			Msg("Backtest finished")
	}

	// Phase 6: liquidation
	if live.Decision == risk.LiveLiquidate {
		m.log.Warn().
			Float64("drawdown", live.Drawdown).
			Float64("peak", st.Risk.AbsolutePeak).
			Msg("Drawdown threshold exceeded, liquidating all positions")
		report.Status = journal.StatusLiquidated
		if !report.DryRun {
			if err := m.broker.LiquidateAll(ctx); err != nil {
				m.log.Error().Err(err).Msg("Liquidation failed")
			}
		}
		return m.saveState(st)
	}

	// Phase 7: selection
	sel := m.selectStrategy(report.Results, ds.Len()-1)
	report.Selection = &sel
	m.log.Info().Str("strategy", string(sel.Strategy)).Bool("by_nav", sel.ByNav).Msg("Strategy selected")

	runAt := now
	st.LastRun = &runAt
	st.LastStrategy = sel.Strategy
	if err := m.saveState(st); err != nil {
		return err
	}

	if sel.IsCash() {
		report.Status = journal.StatusCash
		m.log.Info().Msg("No upward momentum, holding cash")
		if len(positions) > 0 && !report.DryRun {
			if err := m.broker.LiquidateAll(ctx); err != nil {
				m.log.Error().Err(err).Msg("Liquidation to cash failed")
			}
		}
		return nil
	}

	// Phase 8: rebalance
	report.Targets = resultFor(report.Results, sel.Strategy).Final
	plan := rebalancing.NewRebalancer(rebalancing.Config{
		Tolerance:     m.cfg.RebalanceTolerance,
		SafetyMargin:  m.cfg.BuyingPowerMargin,
		ShareDecimals: m.cfg.ShareDecimals,
	}, m.log).Rebalance(rebalancing.Request{
		Targets:      report.Targets,
		AccountValue: account.Equity,
		BuyingPower:  account.BuyingPower,
		Positions:    positions,
		Prices:       currentPrices(ds, positions),
	})
	report.Plan = &plan

	buys, sells, holds := plan.Counts()
	m.log.Info().Int("buys", buys).Int("sells", sells).Int("holds", holds).Float64("buy_scale", plan.BuyScale).Msg("Rebalance planned")

	report.Status = journal.StatusCompleted
	if !report.DryRun && m.clock != nil {
		open, err := m.clock.IsMarketOpen(ctx)
		if err != nil {
			m.log.Warn().Err(err).Msg("Market clock unavailable, proceeding")
		} else if !open {
			m.log.Warn().Msg("Market is closed, orders not sent")
			report.Status = journal.StatusMarketClosed
			report.Orders = m.recordsFor(plan, nil)
			return nil
		}
	}

	report.Orders = m.execute(ctx, plan, report.DryRun)
	return nil
}

func (m *PortfolioManager) selectStrategy(results []backtest.Result, asOf int) selection.Selection {
	candidates := make([]selection.Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, selection.Candidate{Name: r.Strategy, Nav: r.Nav})
	}
	sel := selection.NewSelector(m.cfg.MomentumLookback).Select(candidates, asOf)

	// the winner's book is cash at the end of the window
	if !sel.IsCash() && resultFor(results, sel.Strategy).InCash {
		m.log.Info().Str("strategy", string(sel.Strategy)).Msg("Selected strategy ended in cash")
		sel.Strategy = domain.StrategyCash
	}
	return sel
}

// execute sends orders sells first. Individual failures are recorded and
// the remaining orders still go out.
func (m *PortfolioManager) execute(ctx context.Context, plan rebalancing.Plan, dryRun bool) []journal.OrderRecord {
	results := make(map[string]domain.OrderResult)
	for _, order := range plan.Orders() {
		if dryRun {
			m.log.Info().
				Str("symbol", order.Symbol).
				Str("side", string(order.Side)).
				Float64("qty", order.Quantity).
				Msg("[DRY RUN] Would place order")
			results[order.Symbol] = domain.OrderResult{Symbol: order.Symbol, Status: dryRunStatus}
			continue
		}

		res, err := m.broker.PlaceOrder(ctx, order)
		if err != nil {
			m.log.Error().Err(err).Str("symbol", order.Symbol).Msg("Order failed")
			results[order.Symbol] = domain.OrderResult{Symbol: order.Symbol, Status: "failed: " + err.Error()}
			continue
		}
		results[order.Symbol] = res
	}
	return m.recordsFor(plan, results)
}

func (m *PortfolioManager) recordsFor(plan rebalancing.Plan, results map[string]domain.OrderResult) []journal.OrderRecord {
	records := make([]journal.OrderRecord, 0, len(plan.Deltas))
	for _, d := range plan.Deltas {
		rec := journal.OrderRecord{PositionDelta: d}
		if res, ok := results[d.Symbol]; ok {
			rec.OrderID = res.ID
			rec.OrderStatus = res.Status
		}
		records = append(records, rec)
	}
	return records
}

func (m *PortfolioManager) saveState(st state.State) error {
	if err := m.store.Save(st); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (m *PortfolioManager) record(ctx context.Context, report *RunReport, runErr error) {
	if m.journal == nil {
		return
	}

	run := &journal.Run{
		StartedAt:     report.StartedAt,
		FinishedAt:    report.FinishedAt,
		Mode:          journal.ModeLive,
		Status:        report.Status,
		AccountEquity: report.Account.Equity,
		Drawdown:      report.Drawdown,
		Allocation:    report.Targets,
		Orders:        report.Orders,
	}
	if report.DryRun {
		run.Mode = journal.ModeDryRun
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if report.Selection != nil {
		run.SelectedStrategy = report.Selection.Strategy
	}
	for _, r := range report.Results {
		sr := journal.StrategyResult{
			Strategy:     r.Strategy,
			FinalNav:     r.FinalNav(),
			TotalReturn:  r.TotalReturn(),
			MaxDrawdown:  r.MaxDrawdown(),
			Liquidations: len(r.Liquidations),
			InCash:       r.InCash,
		}
		if report.Selection != nil {
			sr.HigherHighs = report.Selection.Scores[r.Strategy]
		}
		run.Strategies = append(run.Strategies, sr)
	}

	// the run's outcome stands even if journaling fails
	if err := m.journal.Record(context.WithoutCancel(ctx), run); err != nil {
		m.log.Error().Err(err).Msg("Failed to journal run")
		return
	}
	report.RunID = run.ID
}

func (m *PortfolioManager) runBackup(ctx context.Context) {
	if m.backup == nil {
		return
	}
	if err := m.backup.Backup(ctx); err != nil {
		m.log.Error().Err(err).Msg("Backup failed")
	}
}

func resultFor(results []backtest.Result, name domain.StrategyName) backtest.Result {
	for _, r := range results {
		if r.Strategy == name {
			return r
		}
	}
	return backtest.Result{Strategy: name, InCash: true}
}

// currentPrices prefers the broker's live price for held positions and
// falls back to the last common close.
func currentPrices(ds *marketdata.Dataset, positions []domain.Position) map[string]float64 {
	prices := ds.LastCloses()
	for _, p := range positions {
		if p.CurrentPrice > 0 {
			prices[p.Symbol] = p.CurrentPrice
		}
	}
	return prices
}

// IsLocked reports whether err means another run holds the lock
func IsLocked(err error) bool {
	return errors.Is(err, state.ErrLocked)
}
