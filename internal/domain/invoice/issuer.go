package invoice

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/confops/billing-engine/internal/codes"
	"github.com/confops/billing-engine/internal/currency"
	"github.com/confops/billing-engine/internal/domain/order"
)

// ErrNotPlaceholder is returned when an upgrade is requested for an invoice
// that is already real.
var ErrNotPlaceholder = errors.New("invoice is not a placeholder")

// ErrRegistrationMissing is returned when an upgrade is requested but the
// seller registration for the emit year is still unavailable.
var ErrRegistrationMissing = errors.New("seller registration not available")

// OrderSource resolves the owning order of an invoice, needed to re-render
// placeholder content.
type OrderSource interface {
	ByID(ctx context.Context, orderID int64) (*order.Order, error)
}

// Issuer creates invoices for orders: one per distinct VAT group, with
// sequential codes, VAT decomposition and frozen exchange data.
type Issuer struct {
	invoices Repository
	rates    *currency.Converter
	renderer Renderer
	registry *Registry
	orders   OrderSource

	// localCurrency decides the billing currency for an emit year; it
	// defaults to EUR for every year.
	localCurrency func(year int) string
}

// NewIssuer creates an Issuer. localCurrency may be nil for EUR-only billing.
func NewIssuer(invoices Repository, rates *currency.Converter, renderer Renderer, registry *Registry, orders OrderSource, localCurrency func(year int) string) *Issuer {
	if localCurrency == nil {
		localCurrency = func(int) string { return "EUR" }
	}
	return &Issuer{
		invoices:      invoices,
		rates:         rates,
		renderer:      renderer,
		registry:      registry,
		orders:        orders,
		localCurrency: localCurrency,
	}
}

// IssueForOrder satisfies order.Issuer.
func (iss *Issuer) IssueForOrder(ctx context.Context, o *order.Order) error {
	_, err := iss.Issue(ctx, o)
	return err
}

// Issue creates one invoice per distinct VAT group of the order that does
// not have one yet, and returns every invoice of the order afterwards.
// Calling it twice therefore produces exactly the same invoice set as
// calling it once.
//
// Paid orders get real "I/" codes; orders without a payment date (bank
// transfers issued ahead of payment) get pro-forma "F/" codes with a nil
// payment date. When a pro-forma order is later paid, the existing invoices
// keep their codes and get the payment date stamped, which is what marks
// their VAT groups as settled.
func (iss *Issuer) Issue(ctx context.Context, o *order.Order) ([]Invoice, error) {
	paymentDate := o.PaymentDate
	emitDate := o.Created
	prefix := codes.ProformaInvoicePrefix
	if paymentDate != nil {
		emitDate = *paymentDate
		prefix = codes.RealInvoicePrefix
	}

	existing, err := iss.invoices.ByOrder(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "fetch existing invoices")
	}
	if paymentDate != nil {
		for i := range existing {
			if existing[i].PaymentDate != nil {
				continue
			}
			if err := iss.invoices.MarkPaid(ctx, existing[i].ID, *paymentDate); err != nil {
				return nil, errors.Wrapf(err, "mark invoice %s paid", existing[i].Code)
			}
			existing[i].PaymentDate = paymentDate
			zctx.From(ctx).Info("pro-forma invoice settled",
				zap.String("code", existing[i].Code),
				zap.String("order", o.Code),
			)
		}
	}
	invoiced := make(map[int64]struct{}, len(existing))
	for _, inv := range existing {
		invoiced[inv.Vat.ID] = struct{}{}
	}

	reg, registered := iss.registry.For(emitDate.Year())
	customer := CustomerInfo(o)

	issued := existing
	for _, group := range o.VatGroups() {
		if _, ok := invoiced[group.Vat.ID]; ok {
			continue
		}

		inv := &Invoice{
			OrderID:     o.ID,
			OrderCode:   o.Code,
			EmitDate:    emitDate,
			PaymentDate: paymentDate,
			Price:       group.Gross,
			Issuer:      reg.Issuer,
			Customer:    customer,
			Vat:         group.Vat,
		}
		if err := iss.freezeExchange(ctx, inv, emitDate); err != nil {
			return nil, err
		}

		// The code is allocated by the insert; content is rendered after,
		// because it includes the code.
		if err := iss.invoices.Create(ctx, inv, prefix); err != nil {
			return nil, errors.Wrap(err, "create invoice")
		}

		if !registered {
			inv.HTML = PlaceholderNotice
			inv.IsPlaceholder = true
		} else {
			html, err := iss.renderer.Render(ctx, inv, o)
			if err != nil {
				return nil, errors.Wrapf(err, "render invoice %s", inv.Code)
			}
			inv.HTML = html
		}
		if err := iss.invoices.UpdateContent(ctx, inv); err != nil {
			return nil, errors.Wrapf(err, "store invoice content %s", inv.Code)
		}

		zctx.From(ctx).Info("invoice issued",
			zap.String("code", inv.Code),
			zap.String("order", o.Code),
			zap.String("gross", inv.Price.StringFixed(2)),
			zap.Bool("placeholder", inv.IsPlaceholder),
		)

		issued = append(issued, *inv)
	}

	return issued, nil
}

// freezeExchange fixes the invoice's local currency, converted VAT and
// exchange rate at issuance time. The frozen values are never recomputed,
// even after the rate cache refreshes.
func (iss *Issuer) freezeExchange(ctx context.Context, inv *Invoice, emitDate time.Time) error {
	cur := iss.localCurrency(emitDate.Year())
	if cur == "" || cur == "EUR" {
		inv.LocalCurrency = "EUR"
		inv.VatInLocalCurrency = inv.VatValue()
		inv.ExchangeRate = decimal.NewFromInt(1)
		inv.ExchangeRateDate = emitDate
		return nil
	}

	conv, err := iss.rates.FromEUR(ctx, inv.VatValue(), cur)
	if err != nil {
		return errors.Wrapf(err, "convert VAT to %s", cur)
	}
	inv.LocalCurrency = cur
	inv.VatInLocalCurrency = conv.Converted
	inv.ExchangeRate = conv.Rate
	inv.ExchangeRateDate = conv.Date
	return nil
}

// UpgradePlaceholder re-renders a placeholder invoice as real, in place. The
// code, price, dates and frozen exchange fields survive untouched; only the
// content and the placeholder flag change.
func (iss *Issuer) UpgradePlaceholder(ctx context.Context, inv *Invoice) error {
	if !inv.IsPlaceholder {
		return ErrNotPlaceholder
	}
	reg, ok := iss.registry.For(inv.EmitDate.Year())
	if !ok {
		return errors.Wrapf(ErrRegistrationMissing, "year %d", inv.EmitDate.Year())
	}

	o, err := iss.orders.ByID(ctx, inv.OrderID)
	if err != nil {
		return errors.Wrap(err, "fetch order")
	}

	inv.Issuer = reg.Issuer
	html, err := iss.renderer.Render(ctx, inv, o)
	if err != nil {
		return errors.Wrapf(err, "render invoice %s", inv.Code)
	}
	inv.HTML = html
	inv.IsPlaceholder = false

	if err := iss.invoices.UpdateContent(ctx, inv); err != nil {
		return errors.Wrapf(err, "store invoice content %s", inv.Code)
	}

	zctx.From(ctx).Info("placeholder invoice upgraded", zap.String("code", inv.Code))
	return nil
}

// UpgradePlaceholders upgrades every placeholder invoice emitted in the
// given year, returning how many were upgraded.
func (iss *Issuer) UpgradePlaceholders(ctx context.Context, year int) (int, error) {
	placeholders, err := iss.invoices.Placeholders(ctx, year)
	if err != nil {
		return 0, errors.Wrap(err, "list placeholder invoices")
	}
	for i := range placeholders {
		if err := iss.UpgradePlaceholder(ctx, &placeholders[i]); err != nil {
			return i, errors.Wrapf(err, "upgrade %s", placeholders[i].Code)
		}
	}
	return len(placeholders), nil
}
