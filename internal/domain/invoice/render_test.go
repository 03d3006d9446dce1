package invoice

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confops/billing-engine/internal/domain/fare"
	"github.com/confops/billing-engine/internal/domain/order"
)

func renderableInvoice() *Invoice {
	return &Invoice{
		Code:             "I/24.0001",
		OrderCode:        "O/24.0010",
		EmitDate:         time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Price:            dec("100.00"),
		Issuer:           "ConfOps SRL\nVia Roma 1",
		Customer:         "Jane Doe\n1 Example Way",
		LocalCurrency:    "EUR",
		ExchangeRate:     decimal.NewFromInt(1),
		ExchangeRateDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Vat:              &fare.Vat{ID: 1, Rate: dec("20")},
	}
}

func TestTemplateRendererDefault(t *testing.T) {
	r, err := NewTemplateRenderer("")
	require.NoError(t, err)

	html, err := r.Render(context.Background(), renderableInvoice(), &order.Order{Code: "O/24.0010"})
	require.NoError(t, err)

	assert.Contains(t, html, "Invoice I/24.0001 for order O/24.0010")
	assert.Contains(t, html, "83.33 EUR")
	assert.Contains(t, html, "16.67 EUR")
	assert.Contains(t, html, "100.00 EUR")
	assert.Contains(t, html, "VAT (20%)")
	assert.NotContains(t, html, "class=\"local\"", "EUR invoices carry no local-currency line")
	assert.NotContains(t, html, "class=\"notice\"")
}

func TestTemplateRendererLocalCurrency(t *testing.T) {
	r, err := NewTemplateRenderer("")
	require.NoError(t, err)

	inv := renderableInvoice()
	inv.LocalCurrency = "GBP"
	inv.ExchangeRate = dec("0.85")
	inv.VatInLocalCurrency = dec("14.17")

	html, err := r.Render(context.Background(), inv, &order.Order{})
	require.NoError(t, err)
	assert.Contains(t, html, "VAT 14.17 GBP at rate 0.85 of 2024-06-01")
}

func TestTemplateRendererNotice(t *testing.T) {
	r, err := NewTemplateRenderer("")
	require.NoError(t, err)

	inv := renderableInvoice()
	inv.Vat.InvoiceNotice = "Reverse charge applies."

	html, err := r.Render(context.Background(), inv, &order.Order{})
	require.NoError(t, err)
	assert.Contains(t, html, "Reverse charge applies.")
}

func TestTemplateRendererCustom(t *testing.T) {
	t.Run("custom document", func(t *testing.T) {
		r, err := NewTemplateRenderer(`{{.Code}}: {{.Gross}}`)
		require.NoError(t, err)
		html, err := r.Render(context.Background(), renderableInvoice(), &order.Order{})
		require.NoError(t, err)
		assert.Equal(t, "I/24.0001: 100.00", html)
	})

	t.Run("broken document", func(t *testing.T) {
		_, err := NewTemplateRenderer(`{{.Code`)
		assert.Error(t, err)
	})
}
