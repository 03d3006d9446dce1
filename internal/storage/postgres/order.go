package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/confops/billing-engine/internal/codes"
	"github.com/confops/billing-engine/internal/domain/fare"
	"github.com/confops/billing-engine/internal/domain/order"
)

const (
	latestOrderCodeSQL = `SELECT code FROM orders
		WHERE code LIKE $1 ORDER BY code DESC LIMIT 1`

	insertOrderSQL = `INSERT INTO orders
		(uuid, code, user_id, created, method, complete, payment_date,
		 card_name, vat_number, cf_code, country, address, billing_notes,
		 order_type, stripe_charge_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`

	insertOrderItemSQL = `INSERT INTO order_items
		(order_id, ticket_id, code, description, price, vat_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	orderByIDSQL = `SELECT id, uuid, code, user_id, created, method, complete,
		payment_date, card_name, vat_number, cf_code, country, address,
		billing_notes, order_type, COALESCE(stripe_charge_id, '')
		FROM orders WHERE id = $1`

	orderByCodeSQL = `SELECT id, uuid, code, user_id, created, method, complete,
		payment_date, card_name, vat_number, cf_code, country, address,
		billing_notes, order_type, COALESCE(stripe_charge_id, '')
		FROM orders WHERE code = $1`

	orderItemsSQL = `SELECT oi.id, oi.order_id, oi.ticket_id, oi.code,
		oi.description, oi.price,
		v.id, v.value, v.description, v.invoice_notice
		FROM order_items oi
		LEFT JOIN vats v ON v.id = oi.vat_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`

	setPaymentDateSQL  = `UPDATE orders SET payment_date = $2 WHERE id = $1`
	setCompleteSQL     = `UPDATE orders SET complete = $2 WHERE id = $1`
	setStripeChargeSQL = `UPDATE orders SET stripe_charge_id = $2 WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
//
// Create assigns sequential order codes. Allocation reads the highest code
// of the year's series and inserts max+1 in the same transaction; the unique
// constraint on orders.code catches concurrent writers, in which case the
// transaction is retried from scratch with a fresh read.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and its items, assigning o.ID, o.Code and the
// item ids. Returns ErrCodeConflict when code allocation keeps losing races
// after bounded retries.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	year := o.Created.Year()
	for attempt := 0; attempt < codeAllocationRetries; attempt++ {
		err := r.tryCreate(ctx, o, year)
		if err == nil {
			return nil
		}
		if isCodeConflict(err) {
			continue
		}
		return err
	}
	return errors.Wrapf(ErrCodeConflict, "allocating order code for year %d", year)
}

func (r *OrderRepository) tryCreate(ctx context.Context, o *order.Order, year int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	code, err := nextCode(ctx, tx, latestOrderCodeSQL, codes.OrderPrefix, year)
	if err != nil {
		return err
	}

	// The charge id column is unique and nullable; an empty string must
	// become NULL or every gateway-less order past the first one collides.
	var id int64
	err = tx.QueryRow(ctx, insertOrderSQL,
		o.UUID, code, o.UserID, o.Created, o.Method, o.Complete, o.PaymentDate,
		o.CardName, o.VatNumber, o.CFCode, o.Country, o.Address, o.BillingNotes,
		o.OrderType, nullIfEmpty(o.StripeChargeID),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", code, err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		var vatID *int64
		if it.Vat != nil {
			vatID = &it.Vat.ID
		}
		err = tx.QueryRow(ctx, insertOrderItemSQL,
			id, it.TicketID, it.Code, it.Description, it.Price, vatID,
		).Scan(&it.ID)
		if err != nil {
			return fmt.Errorf("inserting item %d of order %s: %w", i, code, err)
		}
		it.OrderID = id
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %s: %w", code, err)
	}

	o.ID = id
	o.Code = code
	return nil
}

// nextCode reads the highest existing code of a (prefix, year) series inside
// the given transaction and returns its successor.
func nextCode(ctx context.Context, tx pgx.Tx, query, prefix string, year int) (string, error) {
	pattern := fmt.Sprintf("%s%02d.%%", prefix, year%100)

	var latest string
	err := tx.QueryRow(ctx, query, pattern).Scan(&latest)
	if errors.Is(err, pgx.ErrNoRows) {
		latest = ""
	} else if err != nil {
		return "", fmt.Errorf("reading latest %s%02d code: %w", prefix, year%100, err)
	}

	next, err := codes.NextAfter(prefix, year, latest)
	if err != nil {
		return "", fmt.Errorf("computing next %s%02d code: %w", prefix, year%100, err)
	}
	return next, nil
}

// ByID fetches an order with its items, VAT hydrated.
func (r *OrderRepository) ByID(ctx context.Context, orderID int64) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, orderByIDSQL, orderID)
	return r.hydrate(ctx, row, fmt.Sprintf("id %d", orderID))
}

// ByCode fetches an order by its public code, items and VAT hydrated.
func (r *OrderRepository) ByCode(ctx context.Context, code string) (*order.Order, error) {
	row := r.pool.QueryRow(ctx, orderByCodeSQL, code)
	return r.hydrate(ctx, row, fmt.Sprintf("code %s", code))
}

func (r *OrderRepository) hydrate(ctx context.Context, row pgx.Row, ref string) (*order.Order, error) {
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(order.ErrNotFound, "order %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching order %s: %w", ref, err)
	}

	rows, err := r.pool.Query(ctx, orderItemsSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("fetching items of order %s: %w", o.Code, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("fetching items of order %s: %w", o.Code, err)
	}
	return o, nil
}

// SetPaymentDate records when the order was paid.
func (r *OrderRepository) SetPaymentDate(ctx context.Context, orderID int64, paymentDate time.Time) error {
	_, err := r.pool.Exec(ctx, setPaymentDateSQL, orderID, paymentDate)
	if err != nil {
		return fmt.Errorf("setting payment date of order %d: %w", orderID, err)
	}
	return nil
}

// SetComplete persists the cached completeness flag.
func (r *OrderRepository) SetComplete(ctx context.Context, orderID int64, complete bool) error {
	_, err := r.pool.Exec(ctx, setCompleteSQL, orderID, complete)
	if err != nil {
		return fmt.Errorf("setting completeness of order %d: %w", orderID, err)
	}
	return nil
}

// SetStripeCharge records the gateway charge id on the order.
func (r *OrderRepository) SetStripeCharge(ctx context.Context, orderID int64, chargeID string) error {
	_, err := r.pool.Exec(ctx, setStripeChargeSQL, orderID, nullIfEmpty(chargeID))
	if err != nil {
		return fmt.Errorf("setting charge id of order %d: %w", orderID, err)
	}
	return nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.UUID, &o.Code, &o.UserID, &o.Created, &o.Method, &o.Complete,
		&o.PaymentDate, &o.CardName, &o.VatNumber, &o.CFCode, &o.Country,
		&o.Address, &o.BillingNotes, &o.OrderType, &o.StripeChargeID,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it        order.Item
		vatID     *int64
		vatRate   *decimal.Decimal
		vatDesc   *string
		vatNotice *string
	)
	err := row.Scan(
		&it.ID, &it.OrderID, &it.TicketID, &it.Code, &it.Description, &it.Price,
		&vatID, &vatRate, &vatDesc, &vatNotice,
	)
	if err != nil {
		return it, err
	}
	if vatID != nil {
		it.Vat = &fare.Vat{ID: *vatID, Rate: *vatRate}
		if vatDesc != nil {
			it.Vat.Description = *vatDesc
		}
		if vatNotice != nil {
			it.Vat.InvoiceNotice = *vatNotice
		}
	}
	return it, nil
}
