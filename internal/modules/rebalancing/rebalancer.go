// Package rebalancing converts target weights into per-instrument share deltas.
package rebalancing

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/portfolio-manager/internal/domain"
)

// materialityEpsilon keeps a delta exactly at the tolerance a HOLD despite
// float rounding in the inputs.
var materialityEpsilon = decimal.New(1, -9)

// Config holds rebalancing parameters
type Config struct {
	Tolerance     float64 // deltas within Tolerance × target shares are HOLD
	SafetyMargin  float64 // share of buying power buys may consume
	ShareDecimals int32   // quantity precision; 0 = whole shares
}

// DefaultConfig returns the production parameters
func DefaultConfig() Config {
	return Config{Tolerance: 0.02, SafetyMargin: 0.98, ShareDecimals: 0}
}

// Request is everything the rebalancer needs for one run
type Request struct {
	Targets      domain.AllocationMap
	AccountValue float64
	BuyingPower  float64
	Positions    []domain.Position
	Prices       map[string]float64
}

// Plan is the rebalancer's output. It places no orders.
type Plan struct {
	Deltas   []domain.PositionDelta `json:"deltas"`
	BuyScale float64                `json:"buy_scale"` // 1 unless buys were scaled to fit buying power
	Unpriced []string               `json:"unpriced,omitempty"`
}

// Orders returns the non-HOLD deltas as market orders, sells before buys
func (p Plan) Orders() []domain.Order {
	var sells, buys []domain.Order
	for _, d := range p.Deltas {
		switch d.Action {
		case domain.ActionSell:
			sells = append(sells, domain.Order{Symbol: d.Symbol, Side: domain.ActionSell, Quantity: -d.Delta})
		case domain.ActionBuy:
			buys = append(buys, domain.Order{Symbol: d.Symbol, Side: domain.ActionBuy, Quantity: d.Delta})
		}
	}
	return append(sells, buys...)
}

// Counts returns the number of buys, sells and holds
func (p Plan) Counts() (buys, sells, holds int) {
	for _, d := range p.Deltas {
		switch d.Action {
		case domain.ActionBuy:
			buys++
		case domain.ActionSell:
			sells++
		default:
			holds++
		}
	}
	return buys, sells, holds
}

// Rebalancer computes position deltas
type Rebalancer struct {
	cfg Config
	log zerolog.Logger
}

// NewRebalancer creates a rebalancer
func NewRebalancer(cfg Config, log zerolog.Logger) *Rebalancer {
	return &Rebalancer{
		cfg: cfg,
		log: log.With().Str("component", "rebalancer").Logger(),
	}
}

type leg struct {
	symbol  string
	target  decimal.Decimal
	current decimal.Decimal
	delta   decimal.Decimal
	price   decimal.Decimal
	action  domain.Action
}

// Rebalance computes target shares for the union of target and held
// instruments, applies the materiality tolerance, scales buys down to fit
// buying power × margin, and truncates quantities to ShareDecimals. Full
// exits sell the exact held quantity.
func (r *Rebalancer) Rebalance(req Request) Plan {
	plan := Plan{BuyScale: 1}

	value := decimal.NewFromFloat(req.AccountValue)
	tolerance := decimal.NewFromFloat(r.cfg.Tolerance)

	current := make(map[string]decimal.Decimal, len(req.Positions))
	for _, p := range req.Positions {
		if p.Quantity != 0 {
			current[p.Symbol] = current[p.Symbol].Add(decimal.NewFromFloat(p.Quantity))
		}
	}

	symbols := unionSymbols(req.Targets, current)
	legs := make([]*leg, 0, len(symbols))
	buyCost := decimal.Zero

	for _, symbol := range symbols {
		l := &leg{symbol: symbol, current: current[symbol], action: domain.ActionHold}

		price := req.Prices[symbol]
		if price > 0 {
			l.price = decimal.NewFromFloat(price)
		}
		if w := req.Targets[symbol]; w > 0 {
			if l.price.IsPositive() {
				l.target = value.Mul(decimal.NewFromFloat(w)).Div(l.price)
			} else {
				plan.Unpriced = append(plan.Unpriced, symbol)
			}
		}

		l.delta = l.target.Sub(l.current)
		threshold := tolerance.Mul(l.target).Add(materialityEpsilon)
		if l.delta.Abs().GreaterThan(threshold) {
			if l.delta.IsPositive() {
				l.action = domain.ActionBuy
				buyCost = buyCost.Add(l.delta.Mul(l.price))
			} else {
				l.action = domain.ActionSell
			}
		}
		legs = append(legs, l)
	}

	limit := decimal.NewFromFloat(req.BuyingPower).Mul(decimal.NewFromFloat(r.cfg.SafetyMargin))
	scale := decimal.NewFromInt(1)
	if buyCost.GreaterThan(limit) && buyCost.IsPositive() {
		if limit.IsPositive() {
			scale = limit.Div(buyCost)
		} else {
			scale = decimal.Zero
		}
		plan.BuyScale = scale.InexactFloat64()
		r.log.Warn().
			Float64("buy_cost", buyCost.InexactFloat64()).
			Float64("limit", limit.InexactFloat64()).
			Float64("scale", plan.BuyScale).
			Msg("Scaling buys down to buying power")
	}

	for _, l := range legs {
		switch l.action {
		case domain.ActionBuy:
			l.delta = l.delta.Mul(scale).Truncate(r.cfg.ShareDecimals)
		case domain.ActionSell:
			// full exits sell exactly what is held
			if !l.target.IsZero() {
				l.delta = l.delta.Truncate(r.cfg.ShareDecimals)
			}
		}
		if l.action != domain.ActionHold && l.delta.IsZero() {
			l.action = domain.ActionHold
		}

		plan.Deltas = append(plan.Deltas, domain.PositionDelta{
			Symbol:        l.symbol,
			TargetShares:  l.target.InexactFloat64(),
			CurrentShares: l.current.InexactFloat64(),
			Delta:         l.delta.InexactFloat64(),
			Action:        l.action,
		})
	}

	if len(plan.Unpriced) > 0 {
		r.log.Warn().Strs("symbols", plan.Unpriced).Msg("No price for target instruments, targeting zero shares")
	}

	return plan
}

func unionSymbols(targets domain.AllocationMap, current map[string]decimal.Decimal) []string {
	seen := make(map[string]struct{}, len(targets)+len(current))
	for s := range targets {
		seen[s] = struct{}{}
	}
	for s := range current {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
