// Package fare defines the ticket fare catalog: what can be bought, for how
// much, and under which VAT regime.
package fare

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrFareUnavailable is returned when a requested fare does not exist, has
// no VAT configured, or is outside its validity window.
var ErrFareUnavailable = errors.New("fare unavailable")

// RecipientType tells who a fare is sold to.
type RecipientType string

const (
	RecipientPersonal RecipientType = "p"
	RecipientCompany  RecipientType = "c"
	RecipientStudent  RecipientType = "s"
)

// Vat is a VAT regime applied to fares and inherited by discount rows.
type Vat struct {
	ID            int64
	Rate          decimal.Decimal
	Description   string
	InvoiceNotice string
}

// Fare is a sellable ticket type. Price is gross, VAT included. Fares with
// sold tickets are immutable; price changes happen by creating a new fare
// code with a new validity window.
type Fare struct {
	ID          int64
	Conference  string
	Code        string
	Name        string
	Description string
	Price       decimal.Decimal

	// Validity window. Both set or both nil, enforced by the schema.
	StartValidity *time.Time
	EndValidity   *time.Time

	RecipientType RecipientType
	TicketType    string

	Vat *Vat
}

// AvailableAt reports whether the fare can be sold at t: either no window is
// configured, or t falls inside it.
func (f *Fare) AvailableAt(t time.Time) bool {
	if f.StartValidity == nil || f.EndValidity == nil {
		return true
	}
	return !t.Before(*f.StartValidity) && !t.After(*f.EndValidity)
}

// Repository defines fare persistence.
type Repository interface {
	Available(ctx context.Context, asOf time.Time) ([]Fare, error)
	ByCodes(ctx context.Context, conference string, codes []string) ([]Fare, error)
}

// Pricer computes the price of qty units of a fare. It is the extension
// point for future pricing schemes (date-ranged rates); callers never price
// a fare themselves.
type Pricer func(f *Fare, qty int) decimal.Decimal

// UnitPricer is the default Pricer: the fare's gross price times quantity.
func UnitPricer(f *Fare, qty int) decimal.Decimal {
	return f.Price.Mul(decimal.NewFromInt(int64(qty)))
}

// Catalog serves fare lookups with availability checks applied.
type Catalog struct {
	repo   Repository
	pricer Pricer
}

// NewCatalog creates a Catalog. A nil pricer falls back to UnitPricer.
func NewCatalog(repo Repository, pricer Pricer) *Catalog {
	if pricer == nil {
		pricer = UnitPricer
	}
	return &Catalog{repo: repo, pricer: pricer}
}

// Available lists the fares sellable at asOf.
func (c *Catalog) Available(ctx context.Context, asOf time.Time) ([]Fare, error) {
	return c.repo.Available(ctx, asOf)
}

// Resolve returns one fare per requested code, request order preserved and
// duplicates allowed. Unknown codes, fares without a VAT regime and fares
// outside their validity window all wrap ErrFareUnavailable.
func (c *Catalog) Resolve(ctx context.Context, conference string, codes []string, asOf time.Time) ([]Fare, error) {
	found, err := c.repo.ByCodes(ctx, conference, codes)
	if err != nil {
		return nil, errors.Wrap(err, "fetch fares")
	}
	byCode := make(map[string]Fare, len(found))
	for _, f := range found {
		byCode[f.Code] = f
	}

	fares := make([]Fare, len(codes))
	for i, code := range codes {
		f, ok := byCode[code]
		if !ok {
			return nil, errors.Wrapf(ErrFareUnavailable, "fare %q not found", code)
		}
		if f.Vat == nil {
			return nil, errors.Wrapf(ErrFareUnavailable, "fare %q has no VAT configured", code)
		}
		if !f.AvailableAt(asOf) {
			return nil, errors.Wrapf(ErrFareUnavailable, "fare %q not on sale", code)
		}
		fares[i] = f
	}
	return fares, nil
}

// PriceFor prices qty units of the fare through the configured Pricer.
func (c *Catalog) PriceFor(f *Fare, qty int) decimal.Decimal {
	return c.pricer(f, qty)
}
