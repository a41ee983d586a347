package backtest

import (
	"github.com/aristath/portfolio-manager/internal/domain"
	"github.com/aristath/portfolio-manager/internal/modules/marketdata"
)

// portfolio is the simulated book: fractional share holdings plus cash.
type portfolio struct {
	ds       *marketdata.Dataset
	holdings map[string]float64
	cash     float64
}

func newPortfolio(ds *marketdata.Dataset, cash float64) *portfolio {
	return &portfolio{ds: ds, holdings: make(map[string]float64), cash: cash}
}

// value marks the book to market on day
func (p *portfolio) value(day int) float64 {
	total := p.cash
	for symbol, shares := range p.holdings {
		if price, ok := p.ds.Close(symbol, day); ok {
			total += shares * price
		}
	}
	return total
}

// buy converts capital into shares according to weights at the prices of day.
// Weights for instruments without a positive price leave their share in cash.
func (p *portfolio) buy(day int, weights domain.AllocationMap, capital float64) {
	spent := 0.0
	for _, symbol := range weights.Symbols() {
		price, ok := p.ds.Close(symbol, day)
		if !ok || price <= 0 {
			continue
		}
		amount := capital * weights[symbol]
		p.holdings[symbol] += amount / price
		spent += amount
	}
	p.cash += capital - spent
}

// rebalance sells everything at day's prices and buys weights with the proceeds
func (p *portfolio) rebalance(day int, weights domain.AllocationMap) {
	capital := p.value(day)
	p.holdings = make(map[string]float64)
	p.cash = 0
	p.buy(day, weights, capital)
}

// liquidate moves the whole book into cash at day's prices
func (p *portfolio) liquidate(day int) {
	p.cash = p.value(day)
	p.holdings = make(map[string]float64)
}

func (p *portfolio) inCash() bool {
	return len(p.holdings) == 0
}

// weights returns the value weight of each holding on day
func (p *portfolio) weights(day int) domain.AllocationMap {
	out := make(domain.AllocationMap, len(p.holdings))
	invested := 0.0
	for symbol, shares := range p.holdings {
		price, ok := p.ds.Close(symbol, day)
		if !ok || shares <= 0 {
			continue
		}
		out[symbol] = shares * price
		invested += shares * price
	}
	if invested <= 0 {
		return domain.AllocationMap{}
	}
	return out.Normalize()
}
