// Package postgres implements the persistence layer on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/confops/billing-engine/db"
)

// ErrCodeConflict is returned when sequential code allocation keeps
// colliding with concurrent writers after bounded retries. It is transient:
// callers may retry the whole operation.
var ErrCodeConflict = errors.New("code allocation conflict")

// codeAllocationRetries bounds the optimistic retry loop around the
// read-max-then-insert code allocation.
const codeAllocationRetries = 5

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, db.Schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// isCodeConflict reports whether err is a unique violation on a code column,
// the signal that a concurrent writer won a code allocation race. Unique
// violations on other columns (a duplicate charge id, say) are real errors
// and must not be retried.
func isCodeConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		strings.HasSuffix(pgErr.ConstraintName, "_code_key")
}

// nullIfEmpty maps the empty string to SQL NULL. Used for nullable unique
// text columns, where inserting '' would make unrelated rows collide.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
