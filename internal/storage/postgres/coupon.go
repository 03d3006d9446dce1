package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/confops/billing-engine/internal/domain/coupon"
)

const (
	couponsByCodesSQL = `SELECT c.id, c.conference, c.code, c.value, c.description,
		c.start_validity, c.end_validity, c.max_usage, c.items_per_usage,
		COALESCE(c.user_id, 0),
		COALESCE(array_agg(cf.fare_code) FILTER (WHERE cf.fare_code IS NOT NULL), '{}')
		FROM coupons c
		LEFT JOIN coupon_fares cf ON cf.coupon_id = c.id
		WHERE c.conference = $1 AND c.code = ANY($2)
		GROUP BY c.id`

	// A coupon use is a ticketless, non-positive order item carrying the
	// coupon code. Codes are only unique per conference; the conference of
	// a use is identified by the fares its order holds.
	couponUsageCountSQL = `SELECT count(*) FROM order_items oi
		WHERE oi.ticket_id IS NULL AND oi.price <= 0 AND oi.code = $2
		AND EXISTS (SELECT 1 FROM order_items t
			JOIN fares f ON f.code = t.code AND f.conference = $1
			WHERE t.order_id = oi.order_id AND t.price > 0)`

	insertCouponSQL = `INSERT INTO coupons
		(conference, code, value, description, max_usage, items_per_usage)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conference, code) DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// ByCodes returns the coupons with the given codes within a conference.
func (r *CouponRepository) ByCodes(ctx context.Context, conference string, codes []string) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, couponsByCodesSQL, conference, codes)
	if err != nil {
		return nil, fmt.Errorf("fetching coupons %v: %w", codes, err)
	}
	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("fetching coupons %v: %w", codes, err)
	}
	return coupons, nil
}

// UsageCount counts the discount rows carrying the coupon code on the
// conference's orders, i.e. how many times the coupon has been spent.
func (r *CouponRepository) UsageCount(ctx context.Context, conference, code string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, couponUsageCountSQL, conference, code).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage of coupon %q: %w", code, err)
	}
	return n, nil
}

// Insert stores a coupon definition, skipping codes that already exist.
// Used by the bulk import tool.
func (r *CouponRepository) Insert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.Conference, c.Code, c.Value, c.Description, c.MaxUsage, c.ItemsPerUsage,
	)
	if err != nil {
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.ID, &c.Conference, &c.Code, &c.Value, &c.Description,
		&c.StartValidity, &c.EndValidity, &c.MaxUsage, &c.ItemsPerUsage,
		&c.UserID, &c.FareCodes,
	)
	return c, err
}
