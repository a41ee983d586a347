package domain

import (
	"context"
	"time"
)

// MarketDataProvider supplies daily bars for an instrument.
type MarketDataProvider interface {
	// GetDailyBars returns bars between from and to (inclusive) in ascending date order.
	GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)
}

// BucketSource supplies the four instrument groups for a run.
type BucketSource interface {
	LoadBuckets(ctx context.Context) (Buckets, error)
}

// BrokerClient reads the brokerage account.
type BrokerClient interface {
	GetAccount(ctx context.Context) (AccountSnapshot, error)
	GetPositions(ctx context.Context) ([]Position, error)
}

// OrderExecutor places orders at the broker.
type OrderExecutor interface {
	PlaceOrder(ctx context.Context, order Order) (OrderResult, error)
	LiquidateAll(ctx context.Context) error
}
