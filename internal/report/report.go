// Package report builds the yearly accounting exports: the tax report rows
// handed to the accountant and the payment reconciliation listing matched
// against the card-gateway statement.
package report

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/confops/billing-engine/internal/domain/invoice"
	"github.com/confops/billing-engine/internal/domain/order"
)

// InvoiceSource yields the real (non-placeholder) invoices emitted in a year.
type InvoiceSource interface {
	EmittedIn(ctx context.Context, year int) ([]invoice.Invoice, error)
}

// OrderSource resolves the order an invoice belongs to.
type OrderSource interface {
	ByID(ctx context.Context, orderID int64) (*order.Order, error)
}

// TaxRow is one line of the yearly tax report, amounts in the invoice's
// local currency.
type TaxRow struct {
	InvoiceCode string
	EmitDate    time.Time
	Buyer       string
	Country     string
	VatNumber   string
	Currency    string
	Net         decimal.Decimal
	Vat         decimal.Decimal
	Gross       decimal.Decimal
}

// ReconciliationRow matches an invoice against the payment gateway
// statement. Amounts are in EUR, the charge currency.
type ReconciliationRow struct {
	InvoiceCode    string
	OrderCode      string
	EmitDate       time.Time
	Net            decimal.Decimal
	Vat            decimal.Decimal
	Gross          decimal.Decimal
	StripeChargeID string
}

// Service assembles report rows from stored invoices and orders.
type Service struct {
	invoices InvoiceSource
	orders   OrderSource
}

// NewService creates a report service over the given sources.
func NewService(invoices InvoiceSource, orders OrderSource) *Service {
	return &Service{invoices: invoices, orders: orders}
}

// TaxReport builds the tax rows for a year, in invoice code order. Amounts
// use the exchange data frozen on each invoice, never current rates.
func (s *Service) TaxReport(ctx context.Context, year int) ([]TaxRow, error) {
	invoices, err := s.invoices.EmittedIn(ctx, year)
	if err != nil {
		return nil, err
	}

	rows := make([]TaxRow, 0, len(invoices))
	for i := range invoices {
		inv := &invoices[i]
		o, err := s.orders.ByID(ctx, inv.OrderID)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve order of invoice %s", inv.Code)
		}
		rows = append(rows, TaxRow{
			InvoiceCode: inv.Code,
			EmitDate:    inv.EmitDate,
			Buyer:       o.CardName,
			Country:     o.Country,
			VatNumber:   o.VatNumber,
			Currency:    inv.LocalCurrency,
			Net:         inv.NetPriceInLocalCurrency(),
			Vat:         inv.VatInLocalCurrency,
			Gross:       inv.PriceInLocalCurrency(),
		})
	}
	return rows, nil
}

// Reconciliation builds the gateway reconciliation rows for a year.
func (s *Service) Reconciliation(ctx context.Context, year int) ([]ReconciliationRow, error) {
	invoices, err := s.invoices.EmittedIn(ctx, year)
	if err != nil {
		return nil, err
	}

	rows := make([]ReconciliationRow, 0, len(invoices))
	for i := range invoices {
		inv := &invoices[i]
		o, err := s.orders.ByID(ctx, inv.OrderID)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve order of invoice %s", inv.Code)
		}
		rows = append(rows, ReconciliationRow{
			InvoiceCode:    inv.Code,
			OrderCode:      o.Code,
			EmitDate:       inv.EmitDate,
			Net:            inv.NetPrice(),
			Vat:            inv.VatValue(),
			Gross:          inv.Price,
			StripeChargeID: o.StripeChargeID,
		})
	}
	return rows, nil
}
