package postgres

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCodeConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "order code collision",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "orders_code_key"},
			want: true,
		},
		{
			name: "invoice code collision",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "invoices_code_key"},
			want: true,
		},
		{
			name: "wrapped code collision",
			err: errors.Wrap(&pgconn.PgError{
				Code: "23505", ConstraintName: "orders_code_key",
			}, "inserting order O/24.0002"),
			want: true,
		},
		{
			name: "duplicate charge id is not a code race",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "orders_stripe_charge_id_key"},
			want: false,
		},
		{
			name: "foreign key violation",
			err:  &pgconn.PgError{Code: "23503", ConstraintName: "order_items_vat_id_fkey"},
			want: false,
		},
		{
			name: "plain error",
			err:  errors.New("connection reset"),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isCodeConflict(tt.err))
		})
	}
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))

	p := nullIfEmpty("ch_1JXa2b")
	require.NotNil(t, p)
	assert.Equal(t, "ch_1JXa2b", *p)
}
