package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/confops/billing-engine/internal/domain/order"
)

type orderRequest struct {
	UserID      int64    `json:"user_id"`
	Method      string   `json:"method"`
	CouponCodes []string `json:"coupon_codes"`
	Items       []struct {
		FareCode string `json:"fare_code"`
		Quantity int    `json:"quantity"`
	} `json:"items"`

	CardName     string `json:"card_name"`
	VatNumber    string `json:"vat_number"`
	CFCode       string `json:"cf_code"`
	Country      string `json:"country"`
	Address      string `json:"address"`
	BillingNotes string `json:"billing_notes"`
	OrderType    string `json:"order_type"`
}

type confirmRequest struct {
	PaymentDate string `json:"payment_date"`
	ChargeID    string `json:"charge_id"`
}

// createOrder places a new order.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, "malformed body"))
		return
	}

	rows := make([]order.RequestRow, len(req.Items))
	for i, it := range req.Items {
		rows[i] = order.RequestRow{FareCode: it.FareCode, Qty: it.Quantity}
	}

	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		UserID:       req.UserID,
		Method:       order.Method(req.Method),
		Rows:         rows,
		CouponCodes:  req.CouponCodes,
		CardName:     req.CardName,
		VatNumber:    req.VatNumber,
		CFCode:       req.CFCode,
		Country:      req.Country,
		Address:      req.Address,
		BillingNotes: req.BillingNotes,
		OrderType:    req.OrderType,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusCreated, &e)
}

// getOrder returns an order by code.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.ByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

// confirmOrder is the payment-gateway callback: it records the payment date
// (and charge id, when present) and triggers invoice issuance.
func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errors.Wrap(errBadRequest, "malformed body"))
		return
	}

	paymentDate := time.Now()
	if req.PaymentDate != "" {
		t, err := time.Parse(time.RFC3339, req.PaymentDate)
		if err != nil {
			writeError(w, r, errors.Wrap(errBadRequest, "malformed payment_date"))
			return
		}
		paymentDate = t
	}

	o, err := h.orders.ConfirmByCode(r.Context(), r.PathValue("code"), paymentDate, req.ChargeID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(o.Code)
	e.FieldStart("uuid")
	e.Str(o.UUID)
	e.FieldStart("created")
	e.Str(o.Created.Format(time.RFC3339))
	e.FieldStart("method")
	e.Str(string(o.Method))
	e.FieldStart("complete")
	e.Bool(o.Complete)
	if o.PaymentDate != nil {
		e.FieldStart("payment_date")
		e.Str(o.PaymentDate.Format(time.RFC3339))
	}
	e.FieldStart("gross")
	e.Str(o.GrossTotal().StringFixed(2))
	e.FieldStart("total")
	e.Str(o.Total().StringFixed(2))
	e.FieldStart("items")
	e.ArrStart()
	for i := range o.Items {
		it := &o.Items[i]
		e.ObjStart()
		e.FieldStart("code")
		e.Str(it.Code)
		e.FieldStart("description")
		e.Str(it.Description)
		e.FieldStart("price")
		e.Str(it.Price.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}
