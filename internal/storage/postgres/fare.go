package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/confops/billing-engine/internal/domain/fare"
)

const (
	availableFaresSQL = `SELECT f.id, f.conference, f.code, f.name, f.description, f.price,
		f.start_validity, f.end_validity, f.recipient_type, f.ticket_type,
		v.id, v.value, v.description, v.invoice_notice
		FROM fares f
		LEFT JOIN vats v ON v.id = f.vat_id
		WHERE (f.start_validity IS NULL AND f.end_validity IS NULL)
		   OR ($1::date BETWEEN f.start_validity AND f.end_validity)
		ORDER BY f.conference, f.code`

	faresByCodesSQL = `SELECT f.id, f.conference, f.code, f.name, f.description, f.price,
		f.start_validity, f.end_validity, f.recipient_type, f.ticket_type,
		v.id, v.value, v.description, v.invoice_notice
		FROM fares f
		LEFT JOIN vats v ON v.id = f.vat_id
		WHERE f.conference = $1 AND f.code = ANY($2)`
)

var _ fare.Repository = (*FareRepository)(nil)

// FareRepository implements fare.Repository backed by PostgreSQL.
type FareRepository struct {
	pool *pgxpool.Pool
}

// NewFareRepository returns a FareRepository that uses the given pool.
func NewFareRepository(pool *pgxpool.Pool) *FareRepository {
	return &FareRepository{pool: pool}
}

// Available returns fares whose validity window contains asOf, plus fares
// with no window.
func (r *FareRepository) Available(ctx context.Context, asOf time.Time) ([]fare.Fare, error) {
	rows, err := r.pool.Query(ctx, availableFaresSQL, asOf)
	if err != nil {
		return nil, fmt.Errorf("listing available fares: %w", err)
	}
	fares, err := pgx.CollectRows(rows, scanFare)
	if err != nil {
		return nil, fmt.Errorf("listing available fares: %w", err)
	}
	return fares, nil
}

// ByCodes returns the fares with the given codes within a conference.
func (r *FareRepository) ByCodes(ctx context.Context, conference string, fareCodes []string) ([]fare.Fare, error) {
	rows, err := r.pool.Query(ctx, faresByCodesSQL, conference, fareCodes)
	if err != nil {
		return nil, fmt.Errorf("fetching fares %v: %w", fareCodes, err)
	}
	fares, err := pgx.CollectRows(rows, scanFare)
	if err != nil {
		return nil, fmt.Errorf("fetching fares %v: %w", fareCodes, err)
	}
	return fares, nil
}

func scanFare(row pgx.CollectableRow) (fare.Fare, error) {
	var (
		f             fare.Fare
		price         decimal.Decimal
		recipientType string
		vatID         *int64
		vatRate       *decimal.Decimal
		vatDesc       *string
		vatNotice     *string
	)
	err := row.Scan(
		&f.ID, &f.Conference, &f.Code, &f.Name, &f.Description, &price,
		&f.StartValidity, &f.EndValidity, &recipientType, &f.TicketType,
		&vatID, &vatRate, &vatDesc, &vatNotice,
	)
	f.Price = price
	f.RecipientType = fare.RecipientType(recipientType)
	if vatID != nil {
		f.Vat = &fare.Vat{
			ID:   *vatID,
			Rate: *vatRate,
		}
		if vatDesc != nil {
			f.Vat.Description = *vatDesc
		}
		if vatNotice != nil {
			f.Vat.InvoiceNotice = *vatNotice
		}
	}
	return f, err
}
