// Package invoice implements invoice issuance: sequential code allocation,
// VAT and currency decomposition, and the placeholder-then-upgrade workflow.
package invoice

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/confops/billing-engine/internal/currency"
	"github.com/confops/billing-engine/internal/domain/fare"
	"github.com/confops/billing-engine/internal/domain/order"
)

// PlaceholderNotice is the customer-facing content stored on invoices issued
// before the seller's tax registration is available.
const PlaceholderNotice = "VAT invoices will be generated as soon as we have been issued a VAT ID.\nPlease stay tuned."

// Invoice is a finalized, numbered billing document for one VAT-rate group
// of an order. Once issued, the code and the frozen exchange fields never
// change; a placeholder is only ever upgraded in place.
type Invoice struct {
	ID        int64
	OrderID   int64
	OrderCode string

	Code        string
	EmitDate    time.Time
	PaymentDate *time.Time
	Price       decimal.Decimal // gross, in EUR

	Issuer   string
	Customer string
	HTML     string
	Note     string

	// IsPlaceholder marks invoices issued without seller tax-registration
	// data. The content is a fixed notice; the code and price are real and
	// survive the later upgrade.
	IsPlaceholder bool

	// Exchange data frozen at issuance for audit reproducibility.
	LocalCurrency      string
	VatInLocalCurrency decimal.Decimal
	ExchangeRate       decimal.Decimal
	ExchangeRateDate   time.Time

	Vat *fare.Vat
}

// NetPrice is the gross price stripped of VAT, rounded to 2 places. Fares
// carry gross prices, so net is derived by division.
func (i *Invoice) NetPrice() decimal.Decimal {
	divisor := decimal.NewFromInt(1).Add(i.Vat.Rate.Div(decimal.NewFromInt(100)))
	return currency.Normalize(i.Price.Div(divisor))
}

// VatValue is the VAT share of the gross price; NetPrice + VatValue always
// equals Price exactly.
func (i *Invoice) VatValue() decimal.Decimal {
	return i.Price.Sub(i.NetPrice())
}

// PriceInLocalCurrency is the gross price converted with the frozen rate.
func (i *Invoice) PriceInLocalCurrency() decimal.Decimal {
	return currency.Normalize(i.Price.Mul(i.ExchangeRate))
}

// NetPriceInLocalCurrency subtracts the converted VAT from the converted
// gross instead of converting the net directly, so that net + vat adds up to
// gross exactly in the local currency after rounding.
func (i *Invoice) NetPriceInLocalCurrency() decimal.Decimal {
	return i.PriceInLocalCurrency().Sub(i.VatInLocalCurrency)
}

// Repository defines persistence for invoices. Create assigns ID and a fresh
// sequential code of the given prefix series inside the same transaction as
// the insert, serialized against concurrent issuance.
type Repository interface {
	Create(ctx context.Context, inv *Invoice, prefix string) error
	// UpdateContent replaces the rendered content fields (html, issuer,
	// customer, placeholder flag) of an existing invoice. Code, price and
	// frozen exchange data are deliberately not updatable.
	UpdateContent(ctx context.Context, inv *Invoice) error
	// MarkPaid stamps the payment date on an invoice issued ahead of
	// payment. The code keeps its pro-forma prefix.
	MarkPaid(ctx context.Context, invoiceID int64, paymentDate time.Time) error
	ByOrder(ctx context.Context, orderID int64) ([]Invoice, error)
	// Placeholders returns the placeholder invoices emitted in a year.
	Placeholders(ctx context.Context, year int) ([]Invoice, error)
}

// Renderer produces the stored content blob for an invoice. The output
// format is the collaborator's concern.
type Renderer interface {
	Render(ctx context.Context, inv *Invoice, o *order.Order) (string, error)
}

// Registration is the seller's tax-registration data for one year.
type Registration struct {
	// Issuer is the full issuer block printed on the invoice.
	Issuer string
	// VATID is the seller's VAT identifier. Empty means the registration is
	// not usable yet and invoices are issued as placeholders.
	VATID string
}

// Registry maps emit years to seller registrations. A default registration,
// when set, covers every year without an explicit entry, so invoices emitted
// across a year rollover or back-dated into an earlier year do not silently
// degrade to placeholders.
type Registry struct {
	byYear   map[int]Registration
	fallback *Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byYear: make(map[int]Registration)}
}

// Set records the registration for a year.
func (r *Registry) Set(year int, reg Registration) {
	r.byYear[year] = reg
}

// SetDefault records the registration used for years without an explicit
// entry.
func (r *Registry) SetDefault(reg Registration) {
	r.fallback = &reg
}

// For returns the registration usable for the given year: the year's entry,
// or the default when the year has none. ok is false when neither exists or
// the VAT id is still missing.
func (r *Registry) For(year int) (Registration, bool) {
	reg, ok := r.byYear[year]
	if !ok {
		if r.fallback == nil {
			return Registration{}, false
		}
		reg = *r.fallback
	}
	return reg, reg.VATID != ""
}

// CustomerInfo builds the customer block printed on the invoice from the
// billing data frozen on the order.
func CustomerInfo(o *order.Order) string {
	parts := []string{o.CardName, o.Address}
	if o.CFCode != "" {
		parts = append(parts, o.CFCode)
	}
	if o.VatNumber != "" {
		parts = append(parts, o.VatNumber)
	}
	if o.BillingNotes != "" {
		parts = append(parts, o.BillingNotes)
	}
	if o.Country != "" {
		parts = append(parts, o.Country)
	}
	return strings.Join(parts, "\n")
}
