// Package journal records every pipeline run in the journal database.
package journal

import (
	"time"

	"github.com/aristath/portfolio-manager/internal/domain"
)

// Mode is how a run treated the broker
type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeLive   Mode = "live"
)

// Status is the outcome of a run
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCooldown     Status = "cooldown"
	StatusLiquidated   Status = "liquidated"
	StatusCash         Status = "cash"
	StatusMarketClosed Status = "market_closed"
)

// Run is one journaled pipeline run
type Run struct {
	ID               string               `json:"id"`
	StartedAt        time.Time            `json:"started_at"`
	FinishedAt       time.Time            `json:"finished_at"`
	Mode             Mode                 `json:"mode"`
	Status           Status               `json:"status"`
	SelectedStrategy domain.StrategyName  `json:"selected_strategy,omitempty"`
	AccountEquity    float64              `json:"account_equity"`
	Drawdown         float64              `json:"drawdown"`
	Error            string               `json:"error,omitempty"`
	Strategies       []StrategyResult     `json:"strategies,omitempty"`
	Allocation       domain.AllocationMap `json:"allocation,omitempty"`
	Orders           []OrderRecord        `json:"orders,omitempty"`
}

// StrategyResult summarizes one simulated strategy of a run
type StrategyResult struct {
	Strategy     domain.StrategyName `json:"strategy"`
	FinalNav     float64             `json:"final_nav"`
	TotalReturn  float64             `json:"total_return"`
	MaxDrawdown  float64             `json:"max_drawdown"`
	HigherHighs  int                 `json:"higher_highs"`
	Liquidations int                 `json:"liquidations"`
	InCash       bool                `json:"in_cash"`
}

// OrderRecord is a rebalance delta and, when placed, the broker's answer
type OrderRecord struct {
	domain.PositionDelta
	OrderID     string `json:"order_id,omitempty"`
	OrderStatus string `json:"order_status,omitempty"`
}
