package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/confops/billing-engine/internal/domain/coupon"
	"github.com/confops/billing-engine/internal/domain/fare"
)

// RequestRow is one (fare, quantity) line of a purchase request.
type RequestRow struct {
	FareCode string
	Qty      int
}

// AppliedCoupon is one coupon's contribution to an order. Amount is negative.
// Vat is the VAT regime of the first eligible row, inherited by the discount
// row the coupon produces.
type AppliedCoupon struct {
	Coupon coupon.Coupon
	Amount decimal.Decimal
	Vat    *fare.Vat
}

// Calculation is the priced breakdown of a prospective order.
type Calculation struct {
	// Units are the single-quantity ticket rows, request order preserved.
	Units []Unit
	// Gross is the ticket total before any discount.
	Gross decimal.Decimal
	// Discounts lists the applied coupons in application order
	// (percentage coupons first, then absolute ones).
	Discounts []AppliedCoupon
	// Total is Gross plus all (negative) discounts.
	Total decimal.Decimal
}

// Unit is a single-quantity priced ticket row.
type Unit struct {
	Fare  fare.Fare
	Price decimal.Decimal
}

// Zero reports whether the order prices to nothing and therefore needs no
// payment step: it auto-completes on creation.
func (c *Calculation) Zero() bool {
	return c.Total.IsZero()
}

// Sentinel errors for purchase request validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
)

// PricingEngine computes order totals under coupon discounts.
type PricingEngine struct {
	conference string
	catalog    *fare.Catalog
	coupons    *coupon.Engine
}

// NewPricingEngine creates a PricingEngine scoped to one conference.
func NewPricingEngine(conference string, catalog *fare.Catalog, coupons *coupon.Engine) *PricingEngine {
	return &PricingEngine{
		conference: conference,
		catalog:    catalog,
		coupons:    coupons,
	}
}

// Quote prices a prospective order: resolves and validates fares and coupons,
// then computes gross, per-coupon discounts and the net total.
//
// Coupons are applied in two passes over the coupon list, not in list order.
// Pass 1 applies every percentage coupon, each computed independently against
// the original row set, so multiple percentage coupons do not compound.
// Pass 2 applies every absolute-value coupon against the running total pass 1
// left, so a value coupon can never exceed the real remaining balance. The
// ordering is a fixed contract: historical invoices depend on it.
func (e *PricingEngine) Quote(ctx context.Context, rows []RequestRow, couponCodes []string, userID int64, asOf time.Time) (*Calculation, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyItems
	}
	fareCodes := make([]string, len(rows))
	for i, r := range rows {
		if r.Qty <= 0 {
			return nil, errors.Wrapf(ErrInvalidQuantity, "fare %q", r.FareCode)
		}
		fareCodes[i] = r.FareCode
	}

	fares, err := e.catalog.Resolve(ctx, e.conference, fareCodes, asOf)
	if err != nil {
		return nil, err
	}

	// Expand quantities into single-quantity rows: discounts and order items
	// operate per unit.
	var units []Unit
	gross := decimal.Zero
	for i, r := range rows {
		f := fares[i]
		unitPrice := e.catalog.PriceFor(&f, 1)
		for q := 0; q < r.Qty; q++ {
			units = append(units, Unit{Fare: f, Price: unitPrice})
			gross = gross.Add(unitPrice)
		}
	}

	coupons, err := e.coupons.Resolve(ctx, e.conference, couponCodes)
	if err != nil {
		return nil, err
	}
	for i := range coupons {
		if err := e.coupons.Validate(ctx, &coupons[i], userID, asOf); err != nil {
			return nil, err
		}
	}

	discountRows := make([]coupon.Row, len(units))
	for i, u := range units {
		discountRows[i] = coupon.Row{FareCode: u.Fare.Code, Price: u.Price}
	}

	calc := &Calculation{Units: units, Gross: gross, Total: gross}
	for _, kind := range []coupon.Kind{coupon.KindPercentage, coupon.KindAmount} {
		for _, c := range coupons {
			if c.Kind() != kind {
				continue
			}
			amount := c.Discount(discountRows, calc.Total)
			if amount.IsZero() {
				continue
			}
			calc.Discounts = append(calc.Discounts, AppliedCoupon{
				Coupon: c,
				Amount: amount,
				Vat:    e.discountVat(&c, units),
			})
			calc.Total = calc.Total.Add(amount)
		}
	}

	return calc, nil
}

// discountVat picks the VAT the coupon's discount row inherits: the VAT of
// the first row the coupon applies to.
func (e *PricingEngine) discountVat(c *coupon.Coupon, units []Unit) *fare.Vat {
	if len(c.FareCodes) == 0 {
		if len(units) > 0 {
			return units[0].Fare.Vat
		}
		return nil
	}
	allowed := make(map[string]struct{}, len(c.FareCodes))
	for _, code := range c.FareCodes {
		allowed[code] = struct{}{}
	}
	for _, u := range units {
		if _, ok := allowed[u.Fare.Code]; ok {
			return u.Fare.Vat
		}
	}
	return nil
}
