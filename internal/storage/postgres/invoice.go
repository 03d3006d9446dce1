package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/confops/billing-engine/internal/domain/fare"
	"github.com/confops/billing-engine/internal/domain/invoice"
	"github.com/confops/billing-engine/internal/domain/order"
)

const (
	latestInvoiceCodeSQL = `SELECT code FROM invoices
		WHERE code LIKE $1 ORDER BY code DESC LIMIT 1`

	insertInvoiceSQL = `INSERT INTO invoices
		(order_id, code, emit_date, payment_date, price, issuer, customer,
		 html, note, is_placeholder, local_currency, vat_in_local_currency,
		 exchange_rate, exchange_rate_date, vat_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	updateInvoiceContentSQL = `UPDATE invoices
		SET html = $2, issuer = $3, customer = $4, is_placeholder = $5
		WHERE id = $1`

	markInvoicePaidSQL = `UPDATE invoices SET payment_date = $2 WHERE id = $1`

	invoiceColumns = `i.id, i.order_id, o.code, i.code, i.emit_date,
		i.payment_date, i.price, i.issuer, i.customer, i.html, i.note,
		i.is_placeholder, i.local_currency, i.vat_in_local_currency,
		i.exchange_rate, i.exchange_rate_date,
		v.id, v.value, v.description, v.invoice_notice`

	invoicesByOrderSQL = `SELECT ` + invoiceColumns + `
		FROM invoices i
		JOIN orders o ON o.id = i.order_id
		LEFT JOIN vats v ON v.id = i.vat_id
		WHERE i.order_id = $1
		ORDER BY i.id`

	placeholderInvoicesSQL = `SELECT ` + invoiceColumns + `
		FROM invoices i
		JOIN orders o ON o.id = i.order_id
		LEFT JOIN vats v ON v.id = i.vat_id
		WHERE i.is_placeholder AND date_part('year', i.emit_date) = $1
		ORDER BY i.code`

	invoiceStatusesSQL = `SELECT i.vat_id, i.payment_date IS NOT NULL
		FROM invoices i WHERE i.order_id = $1`

	invoicesEmittedInSQL = `SELECT ` + invoiceColumns + `
		FROM invoices i
		JOIN orders o ON o.id = i.order_id
		LEFT JOIN vats v ON v.id = i.vat_id
		WHERE NOT i.is_placeholder AND date_part('year', i.emit_date) = $1
		ORDER BY i.code`
)

var (
	_ invoice.Repository  = (*InvoiceRepository)(nil)
	_ order.InvoiceReader = (*InvoiceRepository)(nil)
)

// InvoiceRepository implements invoice.Repository backed by PostgreSQL. Code
// allocation works like order codes: read the series maximum, insert max+1,
// retry the transaction when the unique constraint on invoices.code fires.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns an InvoiceRepository that uses the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// Create persists the invoice, assigning inv.ID and inv.Code from the
// (prefix, emit year) series. Returns ErrCodeConflict after bounded retries.
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice, prefix string) error {
	year := inv.EmitDate.Year()
	for attempt := 0; attempt < codeAllocationRetries; attempt++ {
		err := r.tryCreate(ctx, inv, prefix, year)
		if err == nil {
			return nil
		}
		if isCodeConflict(err) {
			continue
		}
		return err
	}
	return errors.Wrapf(ErrCodeConflict, "allocating %s code for year %d", prefix, year)
}

func (r *InvoiceRepository) tryCreate(ctx context.Context, inv *invoice.Invoice, prefix string, year int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	code, err := nextCode(ctx, tx, latestInvoiceCodeSQL, prefix, year)
	if err != nil {
		return err
	}

	var vatID *int64
	if inv.Vat != nil {
		vatID = &inv.Vat.ID
	}

	var id int64
	err = tx.QueryRow(ctx, insertInvoiceSQL,
		inv.OrderID, code, inv.EmitDate, inv.PaymentDate, inv.Price,
		inv.Issuer, inv.Customer, inv.HTML, inv.Note, inv.IsPlaceholder,
		inv.LocalCurrency, inv.VatInLocalCurrency, inv.ExchangeRate,
		inv.ExchangeRateDate, vatID,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("inserting invoice %s: %w", code, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing invoice %s: %w", code, err)
	}

	inv.ID = id
	inv.Code = code
	return nil
}

// UpdateContent replaces the rendered content of an invoice. The code, the
// price and the frozen exchange fields are never touched.
func (r *InvoiceRepository) UpdateContent(ctx context.Context, inv *invoice.Invoice) error {
	_, err := r.pool.Exec(ctx, updateInvoiceContentSQL,
		inv.ID, inv.HTML, inv.Issuer, inv.Customer, inv.IsPlaceholder,
	)
	if err != nil {
		return fmt.Errorf("updating content of invoice %s: %w", inv.Code, err)
	}
	return nil
}

// MarkPaid stamps the payment date on an invoice issued ahead of payment.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, invoiceID int64, paymentDate time.Time) error {
	_, err := r.pool.Exec(ctx, markInvoicePaidSQL, invoiceID, paymentDate)
	if err != nil {
		return fmt.Errorf("marking invoice %d paid: %w", invoiceID, err)
	}
	return nil
}

// ByOrder returns all invoices of an order, VAT hydrated.
func (r *InvoiceRepository) ByOrder(ctx context.Context, orderID int64) ([]invoice.Invoice, error) {
	rows, err := r.pool.Query(ctx, invoicesByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetching invoices of order %d: %w", orderID, err)
	}
	invoices, err := pgx.CollectRows(rows, scanInvoice)
	if err != nil {
		return nil, fmt.Errorf("fetching invoices of order %d: %w", orderID, err)
	}
	return invoices, nil
}

// Placeholders returns the placeholder invoices emitted in a year, oldest
// code first.
func (r *InvoiceRepository) Placeholders(ctx context.Context, year int) ([]invoice.Invoice, error) {
	rows, err := r.pool.Query(ctx, placeholderInvoicesSQL, year)
	if err != nil {
		return nil, fmt.Errorf("fetching placeholder invoices of %d: %w", year, err)
	}
	invoices, err := pgx.CollectRows(rows, scanInvoice)
	if err != nil {
		return nil, fmt.Errorf("fetching placeholder invoices of %d: %w", year, err)
	}
	return invoices, nil
}

// EmittedIn returns the non-placeholder invoices emitted in a year, code
// order. Feeds the tax and reconciliation reports.
func (r *InvoiceRepository) EmittedIn(ctx context.Context, year int) ([]invoice.Invoice, error) {
	rows, err := r.pool.Query(ctx, invoicesEmittedInSQL, year)
	if err != nil {
		return nil, fmt.Errorf("fetching invoices of %d: %w", year, err)
	}
	invoices, err := pgx.CollectRows(rows, scanInvoice)
	if err != nil {
		return nil, fmt.Errorf("fetching invoices of %d: %w", year, err)
	}
	return invoices, nil
}

// StatusesForOrder reports, per VAT group, whether a paid invoice exists.
// Implements order.InvoiceReader.
func (r *InvoiceRepository) StatusesForOrder(ctx context.Context, orderID int64) ([]order.InvoiceStatus, error) {
	rows, err := r.pool.Query(ctx, invoiceStatusesSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetching invoice statuses of order %d: %w", orderID, err)
	}
	statuses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.InvoiceStatus, error) {
		var s order.InvoiceStatus
		err := row.Scan(&s.VatID, &s.Paid)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching invoice statuses of order %d: %w", orderID, err)
	}
	return statuses, nil
}

func scanInvoice(row pgx.CollectableRow) (invoice.Invoice, error) {
	var (
		inv       invoice.Invoice
		vatID     *int64
		vatRate   *decimal.Decimal
		vatDesc   *string
		vatNotice *string
	)
	err := row.Scan(
		&inv.ID, &inv.OrderID, &inv.OrderCode, &inv.Code, &inv.EmitDate,
		&inv.PaymentDate, &inv.Price, &inv.Issuer, &inv.Customer, &inv.HTML,
		&inv.Note, &inv.IsPlaceholder, &inv.LocalCurrency,
		&inv.VatInLocalCurrency, &inv.ExchangeRate, &inv.ExchangeRateDate,
		&vatID, &vatRate, &vatDesc, &vatNotice,
	)
	if err != nil {
		return inv, err
	}
	if vatID != nil {
		inv.Vat = &fare.Vat{ID: *vatID, Rate: *vatRate}
		if vatDesc != nil {
			inv.Vat.Description = *vatDesc
		}
		if vatNotice != nil {
			inv.Vat.InvoiceNotice = *vatNotice
		}
	}
	return inv, nil
}
