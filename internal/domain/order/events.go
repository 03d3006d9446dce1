package order

import "context"

// Listener receives an order lifecycle notification. Listeners run
// synchronously, in registration order, after the owning transaction has
// committed; a listener must not assume it can still abort the operation.
type Listener func(ctx context.Context, o *Order)

// Events is the explicit callback registry replacing the framework signal
// dispatch of the legacy system. Registration is expected to happen during
// wiring, before the service starts serving requests.
type Events struct {
	orderCreated      []Listener
	purchaseCompleted []Listener
}

// NewEvents creates an empty registry.
func NewEvents() *Events {
	return &Events{}
}

// OnOrderCreated registers a listener invoked after an order and its items
// have been persisted. Typical listeners: ticket creation, order email.
func (e *Events) OnOrderCreated(l Listener) {
	e.orderCreated = append(e.orderCreated, l)
}

// OnPurchaseCompleted registers a listener invoked when an order first
// becomes complete (every VAT group invoiced and paid).
func (e *Events) OnPurchaseCompleted(l Listener) {
	e.purchaseCompleted = append(e.purchaseCompleted, l)
}

func (e *Events) emitOrderCreated(ctx context.Context, o *Order) {
	for _, l := range e.orderCreated {
		l(ctx, o)
	}
}

func (e *Events) emitPurchaseCompleted(ctx context.Context, o *Order) {
	for _, l := range e.purchaseCompleted {
		l(ctx, o)
	}
}
