package report

import (
	"encoding/csv"
	"io"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const dateLayout = "2006-01-02"

// WriteTaxCSV streams tax rows as CSV with a header line.
func WriteTaxCSV(w io.Writer, rows []TaxRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"invoice", "date", "buyer", "country", "vat_number", "currency",
		"net", "vat", "gross",
	}); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, r := range rows {
		err := cw.Write([]string{
			r.InvoiceCode, r.EmitDate.Format(dateLayout), r.Buyer, r.Country,
			r.VatNumber, r.Currency,
			r.Net.StringFixed(2), r.Vat.StringFixed(2), r.Gross.StringFixed(2),
		})
		if err != nil {
			return errors.Wrapf(err, "write row for %s", r.InvoiceCode)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTaxJSON streams tax rows as a JSON array.
func WriteTaxJSON(w io.Writer, rows []TaxRow) error {
	var e jx.Encoder
	e.ArrStart()
	for _, r := range rows {
		e.ObjStart()
		e.FieldStart("invoice")
		e.Str(r.InvoiceCode)
		e.FieldStart("date")
		e.Str(r.EmitDate.Format(dateLayout))
		e.FieldStart("buyer")
		e.Str(r.Buyer)
		e.FieldStart("country")
		e.Str(r.Country)
		e.FieldStart("vat_number")
		e.Str(r.VatNumber)
		e.FieldStart("currency")
		e.Str(r.Currency)
		e.FieldStart("net")
		e.Str(r.Net.StringFixed(2))
		e.FieldStart("vat")
		e.Str(r.Vat.StringFixed(2))
		e.FieldStart("gross")
		e.Str(r.Gross.StringFixed(2))
		e.ObjEnd()
	}
	e.ArrEnd()

	if _, err := w.Write(e.Bytes()); err != nil {
		return errors.Wrap(err, "write json export")
	}
	return nil
}

// WriteReconciliationCSV streams reconciliation rows as CSV with a header.
func WriteReconciliationCSV(w io.Writer, rows []ReconciliationRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"invoice", "order", "date", "net", "vat", "gross", "charge_id",
	}); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, r := range rows {
		err := cw.Write([]string{
			r.InvoiceCode, r.OrderCode, r.EmitDate.Format(dateLayout),
			r.Net.StringFixed(2), r.Vat.StringFixed(2), r.Gross.StringFixed(2),
			r.StripeChargeID,
		})
		if err != nil {
			return errors.Wrapf(err, "write row for %s", r.InvoiceCode)
		}
	}
	cw.Flush()
	return cw.Error()
}
