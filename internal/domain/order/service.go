package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	UserID      int64
	Method      Method
	Rows        []RequestRow
	CouponCodes []string

	// Billing data frozen onto the order.
	CardName     string
	VatNumber    string
	CFCode       string
	Country      string
	Address      string
	BillingNotes string
	OrderType    string
}

// Service owns the order lifecycle: creation with code allocation, payment
// confirmation, and completeness tracking.
type Service struct {
	pricing  *PricingEngine
	orders   Repository
	invoices InvoiceReader
	issuer   Issuer
	events   *Events
	now      func() time.Time
}

// NewService creates the lifecycle service.
func NewService(pricing *PricingEngine, orders Repository, invoices InvoiceReader, issuer Issuer, events *Events) *Service {
	if events == nil {
		events = NewEvents()
	}
	return &Service{
		pricing:  pricing,
		orders:   orders,
		invoices: invoices,
		issuer:   issuer,
		events:   events,
		now:      time.Now,
	}
}

// Create prices the request, persists the order together with all of its
// items in one transaction (ticket rows first, then coupon discount rows in
// percentage-then-value order), and fires the OrderCreated listeners. Orders
// that price to zero need no payment: they are confirmed and completed
// immediately.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Order, error) {
	asOf := s.now()

	calc, err := s.pricing.Quote(ctx, req.Rows, req.CouponCodes, req.UserID, asOf)
	if err != nil {
		return nil, err
	}

	o := &Order{
		UUID:         uuid.New().String(),
		UserID:       req.UserID,
		Created:      asOf,
		Method:       req.Method,
		CardName:     req.CardName,
		VatNumber:    req.VatNumber,
		CFCode:       req.CFCode,
		Country:      req.Country,
		Address:      req.Address,
		BillingNotes: req.BillingNotes,
		OrderType:    req.OrderType,
	}

	o.Items = buildItems(calc)

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("order created",
		zap.String("code", o.Code),
		zap.Int64("user_id", o.UserID),
		zap.String("method", string(o.Method)),
		zap.String("gross", calc.Gross.StringFixed(2)),
		zap.String("total", calc.Total.StringFixed(2)),
	)

	s.events.emitOrderCreated(ctx, o)

	// 100%-discounted orders skip the payment step entirely.
	if calc.Zero() {
		if err := s.Confirm(ctx, o, asOf); err != nil {
			return nil, errors.Wrap(err, "confirm zero-total order")
		}
	}

	return o, nil
}

// buildItems turns a calculation into persistable order items: one row per
// ticket unit, then one negative row per applied coupon.
func buildItems(calc *Calculation) []Item {
	perFare := make(map[string]int, len(calc.Units))
	for _, u := range calc.Units {
		perFare[u.Fare.Code]++
	}

	items := make([]Item, 0, len(calc.Units)+len(calc.Discounts))
	seen := make(map[string]int, len(perFare))
	for _, u := range calc.Units {
		seen[u.Fare.Code]++
		desc := u.Fare.Name
		if n := perFare[u.Fare.Code]; n > 1 {
			desc = fmt.Sprintf("%s [%d/%d]", u.Fare.Name, seen[u.Fare.Code], n)
		}
		items = append(items, Item{
			Code:        u.Fare.Code,
			Description: desc,
			Price:       u.Price,
			Vat:         u.Fare.Vat,
		})
	}
	for _, d := range calc.Discounts {
		items = append(items, Item{
			Code:        d.Coupon.Code,
			Description: d.Coupon.Description,
			Price:       d.Amount,
			Vat:         d.Vat,
		})
	}
	return items
}

// Confirm records the payment date and issues the invoices for every VAT
// group that does not have one yet. It is idempotent: confirming an already
// confirmed order issues nothing new and produces the same invoice set.
func (s *Service) Confirm(ctx context.Context, o *Order, paymentDate time.Time) error {
	if err := s.orders.SetPaymentDate(ctx, o.ID, paymentDate); err != nil {
		return errors.Wrap(err, "set payment date")
	}
	o.PaymentDate = &paymentDate

	if err := s.issuer.IssueForOrder(ctx, o); err != nil {
		return errors.Wrap(err, "issue invoices")
	}

	if _, err := s.IsComplete(ctx, o, true); err != nil {
		return errors.Wrap(err, "recheck completeness")
	}
	return nil
}

// ConfirmByCode is the payment-gateway callback path: it resolves the order,
// records the gateway charge id when one is supplied, and confirms.
func (s *Service) ConfirmByCode(ctx context.Context, code string, paymentDate time.Time, chargeID string) (*Order, error) {
	o, err := s.orders.ByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if chargeID != "" {
		if err := s.orders.SetStripeCharge(ctx, o.ID, chargeID); err != nil {
			return nil, errors.Wrap(err, "record charge id")
		}
		o.StripeChargeID = chargeID
	}
	if err := s.Confirm(ctx, o, paymentDate); err != nil {
		return nil, err
	}
	return o, nil
}

// IsComplete reports whether the order is fully paid: every distinct VAT
// group among its positive rows has an invoice with a payment date, and
// there is at least one such group. The cached flag short-circuits the check
// unless force is set; when the recomputed state flips the cache to true it
// is persisted and the PurchaseCompleted listeners fire.
func (s *Service) IsComplete(ctx context.Context, o *Order, force bool) (bool, error) {
	if o.Complete && !force {
		return true, nil
	}

	statuses, err := s.invoices.StatusesForOrder(ctx, o.ID)
	if err != nil {
		return false, errors.Wrap(err, "fetch invoice statuses")
	}

	paid := make(map[int64]struct{})
	for _, st := range statuses {
		if st.Paid {
			paid[st.VatID] = struct{}{}
		}
	}

	groups := o.distinctVatIDs()
	complete := len(groups) > 0
	for id := range groups {
		if _, ok := paid[id]; !ok {
			complete = false
			break
		}
	}

	if complete && !o.Complete {
		if err := s.orders.SetComplete(ctx, o.ID, true); err != nil {
			return false, errors.Wrap(err, "persist complete flag")
		}
		o.Complete = true
		zctx.From(ctx).Info("purchase completed", zap.String("code", o.Code))
		s.events.emitPurchaseCompleted(ctx, o)
	}

	return complete, nil
}

// ByCode returns the order with the given code.
func (s *Service) ByCode(ctx context.Context, code string) (*Order, error) {
	return s.orders.ByCode(ctx, code)
}
