package invoice

import (
	"context"
	"html/template"
	"strings"

	"github.com/go-faster/errors"

	"github.com/confops/billing-engine/internal/domain/order"
)

// defaultTemplate is the built-in invoice document. Deployments can swap the
// whole Renderer for a custom layout.
const defaultTemplate = `<article class="invoice">
<h1>Invoice {{.Code}} for order {{.OrderCode}}</h1>
<section class="issuer"><pre>{{.Issuer}}</pre></section>
<section class="customer"><pre>{{.Customer}}</pre></section>
<table>
<tr><td>Net</td><td>{{.Net}} EUR</td></tr>
<tr><td>VAT ({{.VatRate}}%)</td><td>{{.Vat}} EUR</td></tr>
<tr><td>Gross</td><td>{{.Gross}} EUR</td></tr>
</table>
{{if ne .LocalCurrency "EUR"}}<p class="local">VAT {{.VatLocal}} {{.LocalCurrency}} at rate {{.Rate}} of {{.RateDate}}</p>{{end}}
{{if .Notice}}<p class="notice">{{.Notice}}</p>{{end}}
</article>
`

// TemplateRenderer renders invoices through an html/template document.
type TemplateRenderer struct {
	tpl *template.Template
}

// NewTemplateRenderer parses tpl, falling back to the built-in document when
// empty.
func NewTemplateRenderer(tpl string) (*TemplateRenderer, error) {
	if tpl == "" {
		tpl = defaultTemplate
	}
	t, err := template.New("invoice").Parse(tpl)
	if err != nil {
		return nil, errors.Wrap(err, "parse invoice template")
	}
	return &TemplateRenderer{tpl: t}, nil
}

// Render produces the stored HTML snapshot for an invoice.
func (r *TemplateRenderer) Render(_ context.Context, inv *Invoice, _ *order.Order) (string, error) {
	data := map[string]string{
		"Code":          inv.Code,
		"OrderCode":     inv.OrderCode,
		"Issuer":        inv.Issuer,
		"Customer":      inv.Customer,
		"Net":           inv.NetPrice().StringFixed(2),
		"Vat":           inv.VatValue().StringFixed(2),
		"VatRate":       inv.Vat.Rate.String(),
		"Notice":        inv.Vat.InvoiceNotice,
		"Gross":         inv.Price.StringFixed(2),
		"LocalCurrency": inv.LocalCurrency,
		"VatLocal":      inv.VatInLocalCurrency.StringFixed(2),
		"Rate":          inv.ExchangeRate.String(),
		"RateDate":      inv.ExchangeRateDate.Format("2006-01-02"),
	}

	var sb strings.Builder
	if err := r.tpl.Execute(&sb, data); err != nil {
		return "", errors.Wrapf(err, "render invoice %s", inv.Code)
	}
	return sb.String(), nil
}
