// Package handler implements the HTTP API: fare listing, order placement,
// the payment confirmation callback, and order lookup.
package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/confops/billing-engine/internal/domain/coupon"
	"github.com/confops/billing-engine/internal/domain/fare"
	"github.com/confops/billing-engine/internal/domain/order"
)

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// Handler serves the public API, delegating business logic to the fare
// catalog and the order service.
type Handler struct {
	catalog *fare.Catalog
	orders  *order.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(catalog *fare.Catalog, orders *order.Service) *Handler {
	return &Handler{catalog: catalog, orders: orders}
}

// Routes are the method-qualified patterns the handler serves, shared with
// the middleware route finder. Order codes contain a slash and travel
// URL-escaped in the path ("/api/orders/O%2F24.0007").
func Routes() []string {
	return []string{
		"GET /api/fares",
		"POST /api/orders",
		"GET /api/orders/{code}",
		"POST /api/orders/{code}/confirm",
	}
}

// Register attaches the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/fares", h.listFares)
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders/{code}", h.getOrder)
	mux.HandleFunc("POST /api/orders/{code}/confirm", h.confirmOrder)
}

// writeJSON writes an encoded body with the given status.
func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError maps a domain error to an HTTP status and a JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		// Do not leak internals.
		err = errors.New("internal error")
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(err.Error())
	e.ObjEnd()
	writeJSON(w, status, &e)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, fare.ErrFareUnavailable),
		errors.Is(err, coupon.ErrCouponInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
