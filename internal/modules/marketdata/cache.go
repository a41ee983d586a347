package marketdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/portfolio-manager/internal/database"
	"github.com/aristath/portfolio-manager/internal/domain"
)

// DefaultCacheTTL is how long a fetched window is served from the cache
const DefaultCacheTTL = 6 * time.Hour

// CachedProvider wraps a MarketDataProvider with a SQLite cache of
// msgpack-encoded bars keyed by (symbol, from, to). Cache failures are logged
// and fall through to the wrapped provider.
type CachedProvider struct {
	inner domain.MarketDataProvider
	db    *database.DB
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

// NewCachedProvider creates a caching provider backed by the cache database
func NewCachedProvider(inner domain.MarketDataProvider, db *database.DB, ttl time.Duration, log zerolog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{
		inner: inner,
		db:    db,
		ttl:   ttl,
		now:   time.Now,
		log:   log.With().Str("component", "price_cache").Logger(),
	}
}

// GetDailyBars serves bars from the cache when fresh, otherwise fetches and stores them
func (p *CachedProvider) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	fromKey := domain.DateKey(from).Format(domain.DateLayout)
	toKey := domain.DateKey(to).Format(domain.DateLayout)

	bars, err := p.lookup(ctx, symbol, fromKey, toKey)
	if err != nil {
		p.log.Warn().Err(err).Str("symbol", symbol).Msg("Cache lookup failed")
	} else if bars != nil {
		p.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("Cache hit")
		return bars, nil
	}

	bars, err = p.inner.GetDailyBars(ctx, symbol, from, to)
	if err != nil {
		return nil, err
	}

	// empty windows are not cached so a late data provider can fill them
	if len(bars) > 0 {
		if err := p.store(ctx, symbol, fromKey, toKey, bars); err != nil {
			p.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache bars")
		}
	}

	return bars, nil
}

func (p *CachedProvider) lookup(ctx context.Context, symbol, fromKey, toKey string) ([]domain.Bar, error) {
	var payload []byte
	var fetchedAt int64

	err := p.db.Conn().QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM daily_bars WHERE symbol = ? AND from_date = ? AND to_date = ?`,
		symbol, fromKey, toKey,
	).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cached bars: %w", err)
	}

	if p.now().Sub(time.Unix(fetchedAt, 0)) > p.ttl {
		return nil, nil
	}

	var bars []domain.Bar
	if err := msgpack.Unmarshal(payload, &bars); err != nil {
		return nil, fmt.Errorf("failed to decode cached bars: %w", err)
	}
	for i := range bars {
		bars[i].Date = domain.DateKey(bars[i].Date)
	}
	return bars, nil
}

func (p *CachedProvider) store(ctx context.Context, symbol, fromKey, toKey string, bars []domain.Bar) error {
	payload, err := msgpack.Marshal(bars)
	if err != nil {
		return fmt.Errorf("failed to encode bars: %w", err)
	}

	_, err = p.db.Conn().ExecContext(ctx,
		`INSERT OR REPLACE INTO daily_bars (symbol, from_date, to_date, payload, fetched_at) VALUES (?, ?, ?, ?, ?)`,
		symbol, fromKey, toKey, payload, p.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store bars: %w", err)
	}
	return nil
}

// Prune deletes cache entries older than maxAge and returns how many were removed
func (p *CachedProvider) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := p.now().Add(-maxAge).Unix()
	res, err := p.db.Conn().ExecContext(ctx, `DELETE FROM daily_bars WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune price cache: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		p.log.Info().Int64("removed", n).Msg("Pruned price cache")
	}
	return n, nil
}
