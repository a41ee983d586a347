package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/portfolio-manager/internal/domain"
)

// MockMarketDataProvider is a mock implementation of domain.MarketDataProvider
type MockMarketDataProvider struct {
	mu     sync.RWMutex
	bars   map[string][]domain.Bar
	errors map[string]error
	calls  map[string]int
}

// NewMockMarketDataProvider creates a new mock market data provider
func NewMockMarketDataProvider() *MockMarketDataProvider {
	return &MockMarketDataProvider{
		bars:   make(map[string][]domain.Bar),
		errors: make(map[string]error),
		calls:  make(map[string]int),
	}
}

// SetBars sets the bars returned for symbol
func (m *MockMarketDataProvider) SetBars(symbol string, bars []domain.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

// SetError makes requests for symbol fail
func (m *MockMarketDataProvider) SetError(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[symbol] = err
}

// Calls returns how many times symbol was requested
func (m *MockMarketDataProvider) Calls(symbol string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[symbol]
}

// GetDailyBars returns the configured bars within [from, to]
func (m *MockMarketDataProvider) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[symbol]++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := m.errors[symbol]; ok {
		return nil, err
	}

	from, to = domain.DateKey(from), domain.DateKey(to)
	out := make([]domain.Bar, 0, len(m.bars[symbol]))
	for _, b := range m.bars[symbol] {
		d := domain.DateKey(b.Date)
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// MockBucketSource is a mock implementation of domain.BucketSource
type MockBucketSource struct {
	Buckets domain.Buckets
	Err     error
}

// LoadBuckets returns the configured buckets
func (m *MockBucketSource) LoadBuckets(ctx context.Context) (domain.Buckets, error) {
	if m.Err != nil {
		return domain.Buckets{}, m.Err
	}
	return m.Buckets, nil
}

// MockBroker implements domain.BrokerClient and domain.OrderExecutor in memory
type MockBroker struct {
	mu          sync.Mutex
	account     domain.AccountSnapshot
	positions   []domain.Position
	orders      []domain.Order
	liquidated  int
	accountErr  error
	positionErr error
	orderErrs   map[string]error
	nextID      int
}

// NewMockBroker creates a broker holding cash only
func NewMockBroker(equity float64) *MockBroker {
	return &MockBroker{
		account: domain.AccountSnapshot{
			Equity:      equity,
			Cash:        equity,
			BuyingPower: equity,
		},
		orderErrs: make(map[string]error),
	}
}

// SetAccount sets the account snapshot
func (m *MockBroker) SetAccount(account domain.AccountSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.account = account
}

// SetPositions sets the held positions
func (m *MockBroker) SetPositions(positions []domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = positions
}

// SetAccountError makes GetAccount fail
func (m *MockBroker) SetAccountError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountErr = err
}

// SetPositionsError makes GetPositions fail
func (m *MockBroker) SetPositionsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionErr = err
}

// SetOrderError makes orders for symbol fail
func (m *MockBroker) SetOrderError(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderErrs[symbol] = err
}

// GetAccount returns the account snapshot
func (m *MockBroker) GetAccount(ctx context.Context) (domain.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accountErr != nil {
		return domain.AccountSnapshot{}, m.accountErr
	}
	return m.account, nil
}

// GetPositions returns the held positions
func (m *MockBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.positionErr != nil {
		return nil, m.positionErr
	}
	out := make([]domain.Position, len(m.positions))
	copy(out, m.positions)
	return out, nil
}

// PlaceOrder records the order
func (m *MockBroker) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.orderErrs[order.Symbol]; ok {
		return domain.OrderResult{}, err
	}
	m.nextID++
	m.orders = append(m.orders, order)
	return domain.OrderResult{
		ID:     fmt.Sprintf("order-%d", m.nextID),
		Symbol: order.Symbol,
		Status: "accepted",
	}, nil
}

// LiquidateAll clears all positions
func (m *MockBroker) LiquidateAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidated++
	m.positions = nil
	return nil
}

// Orders returns the orders placed so far
func (m *MockBroker) Orders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, len(m.orders))
	copy(out, m.orders)
	return out
}

// Liquidations returns how many times LiquidateAll was called
func (m *MockBroker) Liquidations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liquidated
}
