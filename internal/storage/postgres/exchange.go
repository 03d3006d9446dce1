package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/confops/billing-engine/internal/currency"
)

const (
	upsertRateSQL = `INSERT INTO exchange_rates (currency, datestamp, rate)
		VALUES ($1, $2, $3)
		ON CONFLICT (currency, datestamp) DO UPDATE SET rate = EXCLUDED.rate`

	latestRateSQL = `SELECT currency, datestamp, rate FROM exchange_rates
		WHERE currency = $1 ORDER BY datestamp DESC LIMIT 1`
)

var _ currency.Store = (*ExchangeRateStore)(nil)

// ExchangeRateStore implements currency.Store backed by PostgreSQL. The
// table is append-only in practice; upserting the same (currency, datestamp)
// twice keeps the fetch job idempotent.
type ExchangeRateStore struct {
	pool *pgxpool.Pool
}

// NewExchangeRateStore returns a store that uses the given pool.
func NewExchangeRateStore(pool *pgxpool.Pool) *ExchangeRateStore {
	return &ExchangeRateStore{pool: pool}
}

// Upsert stores the rate for its (currency, datestamp) key.
func (s *ExchangeRateStore) Upsert(ctx context.Context, r currency.Rate) error {
	_, err := s.pool.Exec(ctx, upsertRateSQL, r.Currency, r.Datestamp, r.Rate)
	if err != nil {
		return fmt.Errorf("upserting %s rate for %s: %w", r.Currency, r.Datestamp.Format("2006-01-02"), err)
	}
	return nil
}

// Latest returns the most recent stored rate for a currency, or
// currency.ErrNoRateAvailable when none exists.
func (s *ExchangeRateStore) Latest(ctx context.Context, cur string) (*currency.Rate, error) {
	var r currency.Rate
	err := s.pool.QueryRow(ctx, latestRateSQL, cur).Scan(&r.Currency, &r.Datestamp, &r.Rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(currency.ErrNoRateAvailable, "currency %s", cur)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching latest %s rate: %w", cur, err)
	}
	return &r, nil
}
