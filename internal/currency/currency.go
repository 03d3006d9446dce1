// Package currency provides the EUR-based exchange rate cache and monetary
// rounding used by invoicing. Everything is based in euros and converted
// either to or from euros.
package currency

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// SupportedCurrencies is the allow-list of non-EUR currencies retained from
// the daily feed.
var SupportedCurrencies = []string{"GBP", "CHF"}

var (
	// ErrNoRateAvailable is returned when a conversion is requested and the
	// rate cache holds nothing for the currency. Invoice issuance in that
	// currency must fail; a default rate is never substituted.
	ErrNoRateAvailable = errors.New("no exchange rate available")
	// ErrCurrencyNotSupported is returned for currencies outside the
	// allow-list.
	ErrCurrencyNotSupported = errors.New("currency not supported")
)

// Rate is one cached daily exchange rate relative to EUR.
type Rate struct {
	Currency  string
	Datestamp time.Time
	Rate      decimal.Decimal
}

// Store is the append-only exchange rate cache. Upsert is idempotent on
// (currency, datestamp) and safe to run concurrently.
type Store interface {
	Upsert(ctx context.Context, r Rate) error
	// Latest returns the most recent cached rate for the currency, or
	// ErrNoRateAvailable when the cache holds none.
	Latest(ctx context.Context, currency string) (*Rate, error)
}

// Normalize rounds a monetary amount to 2 decimal places. Two places are
// assumed safe for every currency the system will ever bill in.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Conversion is the result of converting an EUR amount, carrying the rate
// and its datestamp so callers can freeze them for audit reproducibility.
type Conversion struct {
	Converted decimal.Decimal
	Rate      decimal.Decimal
	Date      time.Time
}

// Converter serves conversions from the cached daily rates. It never fetches:
// feed unavailability does not affect it as long as the cache has data.
type Converter struct {
	store Store
}

// NewConverter creates a Converter reading from the given Store.
func NewConverter(store Store) *Converter {
	return &Converter{store: store}
}

// LatestRate returns the most recent cached rate for the currency and the
// datestamp it was published on.
func (c *Converter) LatestRate(ctx context.Context, cur string) (decimal.Decimal, time.Time, error) {
	if !slices.Contains(SupportedCurrencies, cur) {
		return decimal.Decimal{}, time.Time{}, errors.Wrapf(ErrCurrencyNotSupported, "%s", cur)
	}
	r, err := c.store.Latest(ctx, cur)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}
	return r.Rate, r.Datestamp, nil
}

// FromEUR converts an EUR amount to the given currency using the latest
// cached rate, normalized to 2 decimal places.
func (c *Converter) FromEUR(ctx context.Context, amount decimal.Decimal, cur string) (Conversion, error) {
	rate, date, err := c.LatestRate(ctx, cur)
	if err != nil {
		return Conversion{}, err
	}
	return Conversion{
		Converted: Normalize(amount.Mul(rate)),
		Rate:      rate,
		Date:      date,
	}, nil
}
