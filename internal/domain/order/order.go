// Package order owns the order entity, its pricing and its lifecycle.
package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/confops/billing-engine/internal/domain/fare"
)

// ErrNotFound is returned when no order matches the given id or code.
var ErrNotFound = errors.New("order not found")

// Method is the payment method of an order.
type Method string

const (
	MethodCreditCard Method = "cc"
	MethodPayPal     Method = "paypal"
	MethodBank       Method = "bank"
	MethodAdmin      Method = "admin"
)

// Order is a purchase request grouping ticket rows and discount rows. Code is
// the externally meaningful identifier ("O/24.0007"); it is allocated at
// creation time and never changes. Complete caches the derived "fully
// invoiced and paid" state; Service.IsComplete recomputes it on demand.
type Order struct {
	ID       int64
	UUID     string
	Code     string
	UserID   int64
	Created  time.Time
	Method   Method
	Complete bool

	PaymentDate *time.Time

	// Billing data copied from the user at purchase time, frozen with the
	// order for invoicing.
	CardName     string
	VatNumber    string
	CFCode       string
	Country      string
	Address      string
	BillingNotes string
	OrderType    string

	StripeChargeID string

	Items []Item
}

// Item is one order line: a priced ticket row (price > 0) or a ticketless
// discount row (price <= 0, Code carries the coupon code). Discount rows
// inherit the VAT of the first row they discount.
type Item struct {
	ID          int64
	OrderID     int64
	TicketID    *int64
	Code        string
	Description string
	Price       decimal.Decimal
	Vat         *fare.Vat
}

// IsDiscount reports whether the item is a ticketless discount row.
func (it *Item) IsDiscount() bool {
	return it.TicketID == nil && !it.Price.IsPositive()
}

// GrossTotal is the sum of the positive-price rows.
func (o *Order) GrossTotal() decimal.Decimal {
	t := decimal.Zero
	for _, it := range o.Items {
		if it.Price.IsPositive() {
			t = t.Add(it.Price)
		}
	}
	return t
}

// Total is the net-of-discount total: the sum over all rows, discount rows
// included.
func (o *Order) Total() decimal.Decimal {
	t := decimal.Zero
	for _, it := range o.Items {
		t = t.Add(it.Price)
	}
	return t
}

// VatGroup collects the order items sharing one VAT regime. Gross already
// includes the group's discount rows, so a fully discounted group sums to
// zero.
type VatGroup struct {
	Vat   *fare.Vat
	Gross decimal.Decimal
	Items []Item
}

// VatGroups partitions the order's items by VAT rate, in first-seen order.
// Each group needs its own invoice.
func (o *Order) VatGroups() []VatGroup {
	var groups []VatGroup
	index := make(map[int64]int)
	for _, it := range o.Items {
		if it.Vat == nil {
			continue
		}
		i, ok := index[it.Vat.ID]
		if !ok {
			i = len(groups)
			index[it.Vat.ID] = i
			groups = append(groups, VatGroup{Vat: it.Vat})
		}
		groups[i].Gross = groups[i].Gross.Add(it.Price)
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}

// distinctVatIDs returns the VAT ids present among positive-price items.
func (o *Order) distinctVatIDs() map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, it := range o.Items {
		if it.Price.IsPositive() && it.Vat != nil {
			ids[it.Vat.ID] = struct{}{}
		}
	}
	return ids
}

// Repository defines persistence for orders. Create persists the order and
// all of its items in a single transaction and assigns ID and Code; partial
// orders must never become visible.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	ByID(ctx context.Context, orderID int64) (*Order, error)
	ByCode(ctx context.Context, code string) (*Order, error)
	SetPaymentDate(ctx context.Context, orderID int64, paymentDate time.Time) error
	SetComplete(ctx context.Context, orderID int64, complete bool) error
	SetStripeCharge(ctx context.Context, orderID int64, chargeID string) error
}

// InvoiceStatus is the slice of invoice state the lifecycle needs to decide
// completeness.
type InvoiceStatus struct {
	VatID int64
	Paid  bool
}

// InvoiceReader exposes the invoices of an order to the lifecycle without
// depending on the invoice package.
type InvoiceReader interface {
	StatusesForOrder(ctx context.Context, orderID int64) ([]InvoiceStatus, error)
}

// Issuer creates the missing invoices for an order on payment confirmation.
type Issuer interface {
	IssueForOrder(ctx context.Context, o *Order) error
}
