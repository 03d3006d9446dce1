package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confops/billing-engine/internal/domain/coupon"
	"github.com/confops/billing-engine/internal/domain/fare"
	"github.com/confops/billing-engine/internal/domain/order"
)

type fareRepoStub struct {
	fares []fare.Fare
}

func (s *fareRepoStub) Available(_ context.Context, asOf time.Time) ([]fare.Fare, error) {
	var out []fare.Fare
	for _, f := range s.fares {
		if f.AvailableAt(asOf) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fareRepoStub) ByCodes(_ context.Context, _ string, codes []string) ([]fare.Fare, error) {
	var out []fare.Fare
	for _, code := range codes {
		for _, f := range s.fares {
			if f.Code == code {
				out = append(out, f)
				break
			}
		}
	}
	return out, nil
}

type couponRepoStub struct {
	coupons map[string]coupon.Coupon
}

func (s *couponRepoStub) ByCodes(_ context.Context, _ string, codes []string) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	for _, code := range codes {
		if c, ok := s.coupons[code]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *couponRepoStub) UsageCount(_ context.Context, _, _ string) (int, error) {
	return 0, nil
}

type orderRepoStub struct {
	nextID   int64
	byCode   map[string]*order.Order
	payments map[int64]time.Time
}

func newOrderRepoStub() *orderRepoStub {
	return &orderRepoStub{
		byCode:   make(map[string]*order.Order),
		payments: make(map[int64]time.Time),
	}
}

func (s *orderRepoStub) Create(_ context.Context, o *order.Order) error {
	s.nextID++
	o.ID = s.nextID
	o.Code = fmt.Sprintf("O/%02d.%04d", o.Created.Year()%100, s.nextID)
	s.byCode[o.Code] = o
	return nil
}

func (s *orderRepoStub) ByID(_ context.Context, id int64) (*order.Order, error) {
	for _, o := range s.byCode {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (s *orderRepoStub) ByCode(_ context.Context, code string) (*order.Order, error) {
	o, ok := s.byCode[code]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o, nil
}

func (s *orderRepoStub) SetPaymentDate(_ context.Context, id int64, d time.Time) error {
	s.payments[id] = d
	return nil
}

func (s *orderRepoStub) SetComplete(_ context.Context, _ int64, _ bool) error { return nil }

func (s *orderRepoStub) SetStripeCharge(_ context.Context, _ int64, _ string) error { return nil }

// invoiceStub plays both issuer and reader: issuing marks every VAT group of
// the order as paid when a payment date is set.
type invoiceStub struct {
	statuses map[int64][]order.InvoiceStatus
}

func (s *invoiceStub) IssueForOrder(_ context.Context, o *order.Order) error {
	seen := make(map[int64]struct{})
	var statuses []order.InvoiceStatus
	for _, it := range o.Items {
		if it.Vat == nil || !it.Price.IsPositive() {
			continue
		}
		if _, ok := seen[it.Vat.ID]; ok {
			continue
		}
		seen[it.Vat.ID] = struct{}{}
		statuses = append(statuses, order.InvoiceStatus{VatID: it.Vat.ID, Paid: o.PaymentDate != nil})
	}
	s.statuses[o.ID] = statuses
	return nil
}

func (s *invoiceStub) StatusesForOrder(_ context.Context, orderID int64) ([]order.InvoiceStatus, error) {
	return s.statuses[orderID], nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	vat := &fare.Vat{ID: 1, Rate: dec("20")}
	fares := &fareRepoStub{fares: []fare.Fare{
		{ID: 1, Code: "TESP", Name: "Early Bird", Price: dec("100.00"), RecipientType: fare.RecipientPersonal, TicketType: "conference", Vat: vat},
		{ID: 2, Code: "TDSP", Name: "Day Pass", Price: dec("20.00"), RecipientType: fare.RecipientPersonal, TicketType: "conference", Vat: vat},
	}}
	coupons := &couponRepoStub{coupons: map[string]coupon.Coupon{
		"HALF": {Code: "HALF", Value: "50%", Description: "half off"},
	}}

	catalog := fare.NewCatalog(fares, nil)
	pricing := order.NewPricingEngine("test", catalog, coupon.NewEngine(coupons))
	invoices := &invoiceStub{statuses: make(map[int64][]order.InvoiceStatus)}
	svc := order.NewService(pricing, newOrderRepoStub(), invoices, invoices, nil)

	mux := http.NewServeMux()
	NewHandler(catalog, svc).Register(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func orderPath(code string) string {
	return "/api/orders/" + url.PathEscape(code)
}

func TestListFares(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/api/fares", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var fares []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fares))
	require.Len(t, fares, 2)
	assert.Equal(t, "TESP", fares[0]["code"])
	assert.Equal(t, "100.00", fares[0]["price"])
	assert.Equal(t, "20", fares[0]["vat_rate"])
}

func TestCreateOrder(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/api/orders", map[string]any{
		"user_id":      42,
		"method":       "cc",
		"coupon_codes": []string{"HALF"},
		"items": []map[string]any{
			{"fare_code": "TESP", "quantity": 1},
		},
		"card_name": "Jane Doe",
		"country":   "IT",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	code, _ := body["code"].(string)
	assert.True(t, strings.HasPrefix(code, "O/"), "got code %q", code)
	assert.Equal(t, "100.00", body["gross"])
	assert.Equal(t, "50.00", body["total"])
	assert.Equal(t, false, body["complete"])

	items, _ := body["items"].([]any)
	require.Len(t, items, 2)
}

func TestCreateOrderErrors(t *testing.T) {
	mux := newTestMux(t)

	tests := []struct {
		name string
		body any
		raw  string
		want int
	}{
		{
			name: "malformed body",
			raw:  "{not json",
			want: http.StatusBadRequest,
		},
		{
			name: "no items",
			body: map[string]any{"user_id": 1, "method": "cc"},
			want: http.StatusBadRequest,
		},
		{
			name: "zero quantity",
			body: map[string]any{"user_id": 1, "method": "cc",
				"items": []map[string]any{{"fare_code": "TESP", "quantity": 0}}},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown fare",
			body: map[string]any{"user_id": 1, "method": "cc",
				"items": []map[string]any{{"fare_code": "NOPE", "quantity": 1}}},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown coupon",
			body: map[string]any{"user_id": 1, "method": "cc",
				"coupon_codes": []string{"NOPE"},
				"items":        []map[string]any{{"fare_code": "TESP", "quantity": 1}}},
			want: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tt.raw != "" {
				req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(tt.raw))
				rec = httptest.NewRecorder()
				mux.ServeHTTP(rec, req)
			} else {
				rec = doJSON(t, mux, http.MethodPost, "/api/orders", tt.body)
			}
			require.Equal(t, tt.want, rec.Code, rec.Body.String())

			body := decodeBody(t, rec)
			assert.Equal(t, float64(tt.want), body["code"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestGetOrder(t *testing.T) {
	mux := newTestMux(t)
	created := doJSON(t, mux, http.MethodPost, "/api/orders", map[string]any{
		"user_id": 1, "method": "bank",
		"items": []map[string]any{{"fare_code": "TDSP", "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, created.Code)
	code := decodeBody(t, created)["code"].(string)

	t.Run("found", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, orderPath(code), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, code, body["code"])
		assert.Equal(t, "40.00", body["total"])
	})

	t.Run("not found", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, orderPath("O/24.9999"), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestConfirmOrder(t *testing.T) {
	mux := newTestMux(t)
	created := doJSON(t, mux, http.MethodPost, "/api/orders", map[string]any{
		"user_id": 1, "method": "cc",
		"items": []map[string]any{{"fare_code": "TESP", "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, created.Code)
	code := decodeBody(t, created)["code"].(string)

	rec := doJSON(t, mux, http.MethodPost, orderPath(code)+"/confirm", map[string]any{
		"payment_date": "2024-06-01T10:00:00Z",
		"charge_id":    "ch_123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["complete"])
	assert.Equal(t, "2024-06-01T10:00:00Z", body["payment_date"])
}

func TestConfirmOrderErrors(t *testing.T) {
	mux := newTestMux(t)

	t.Run("unknown order", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, orderPath("O/24.9999")+"/confirm", map[string]any{})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed payment date", func(t *testing.T) {
		created := doJSON(t, mux, http.MethodPost, "/api/orders", map[string]any{
			"user_id": 1, "method": "cc",
			"items": []map[string]any{{"fare_code": "TESP", "quantity": 1}},
		})
		require.Equal(t, http.StatusCreated, created.Code)
		code := decodeBody(t, created)["code"].(string)

		rec := doJSON(t, mux, http.MethodPost, orderPath(code)+"/confirm", map[string]any{
			"payment_date": "yesterday",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
