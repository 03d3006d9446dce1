package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepo is an in-memory coupon.Repository for engine tests.
type mockRepo struct {
	coupons map[string]Coupon
	usage   map[string]int
}

func (m *mockRepo) ByCodes(_ context.Context, _ string, codes []string) ([]Coupon, error) {
	var out []Coupon
	for _, code := range codes {
		if c, ok := m.coupons[code]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockRepo) UsageCount(_ context.Context, _ string, code string) (int, error) {
	return m.usage[code], nil
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestKind(t *testing.T) {
	assert.Equal(t, KindPercentage, (&Coupon{Value: "20%"}).Kind())
	assert.Equal(t, KindAmount, (&Coupon{Value: "10"}).Kind())
	assert.Equal(t, KindAmount, (&Coupon{Value: "8.5"}).Kind())
}

func TestEngineResolve(t *testing.T) {
	engine := NewEngine(&mockRepo{coupons: map[string]Coupon{
		"TEN": {Code: "TEN", Value: "10%"},
	}})
	ctx := context.Background()

	t.Run("known code", func(t *testing.T) {
		got, err := engine.Resolve(ctx, "conf", []string{"TEN"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "TEN", got[0].Code)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, err := engine.Resolve(ctx, "conf", []string{"NOPE"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCouponInvalid)

		var invalid *InvalidError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "NOPE", invalid.Code)
		assert.Equal(t, ReasonUnknownCode, invalid.Reason)
	})

	t.Run("no codes", func(t *testing.T) {
		got, err := engine.Resolve(ctx, "conf", nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestEngineValidate(t *testing.T) {
	asOf := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		coupon Coupon
		usage  int
		userID int64
		reason Reason
	}{
		{
			name:   "valid unrestricted",
			coupon: Coupon{Code: "OK", Value: "10%"},
		},
		{
			name:   "malformed value",
			coupon: Coupon{Code: "BAD", Value: "ten percent"},
			reason: ReasonMalformedValue,
		},
		{
			name:   "double percent",
			coupon: Coupon{Code: "BAD2", Value: "10%%"},
			reason: ReasonMalformedValue,
		},
		{
			name: "inside window",
			coupon: Coupon{Code: "WIN", Value: "10%",
				StartValidity: date(2024, 6, 1), EndValidity: date(2024, 6, 30)},
		},
		{
			name: "window boundary day is valid",
			coupon: Coupon{Code: "EDGE", Value: "10%",
				StartValidity: date(2024, 6, 15), EndValidity: date(2024, 6, 15)},
		},
		{
			name: "expired",
			coupon: Coupon{Code: "OLD", Value: "10%",
				StartValidity: date(2024, 1, 1), EndValidity: date(2024, 1, 31)},
			reason: ReasonExpired,
		},
		{
			name: "not started yet",
			coupon: Coupon{Code: "SOON", Value: "10%",
				StartValidity: date(2024, 9, 1), EndValidity: date(2024, 9, 30)},
			reason: ReasonExpired,
		},
		{
			name:   "usage exhausted",
			coupon: Coupon{Code: "GONE", Value: "100%", MaxUsage: 3},
			usage:  3,
			reason: ReasonUsageExhausted,
		},
		{
			name:   "usage below cap",
			coupon: Coupon{Code: "LEFT", Value: "100%", MaxUsage: 3},
			usage:  2,
		},
		{
			name:   "zero max usage is unlimited",
			coupon: Coupon{Code: "INF", Value: "10%"},
			usage:  10_000,
		},
		{
			name:   "bound to another user",
			coupon: Coupon{Code: "HERS", Value: "100%", UserID: 7},
			userID: 8,
			reason: ReasonWrongUser,
		},
		{
			name:   "bound to this user",
			coupon: Coupon{Code: "MINE", Value: "100%", UserID: 7},
			userID: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(&mockRepo{
				usage: map[string]int{tt.coupon.Code: tt.usage},
			})
			err := engine.Validate(context.Background(), &tt.coupon, tt.userID, asOf)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCouponInvalid)
			var invalid *InvalidError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.reason, invalid.Reason)
		})
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestDiscount(t *testing.T) {
	rows := []Row{
		{FareCode: "TESP", Price: dec("100.00")},
		{FareCode: "TESP", Price: dec("100.00")},
		{FareCode: "TDSP", Price: dec("20.00")},
	}

	tests := []struct {
		name            string
		coupon          Coupon
		rows            []Row
		applicableTotal string
		want            string
	}{
		{
			name:            "percentage over everything",
			coupon:          Coupon{Value: "10%"},
			rows:            rows,
			applicableTotal: "220.00",
			want:            "-22.00",
		},
		{
			name:            "percentage restricted to a fare",
			coupon:          Coupon{Value: "50%", FareCodes: []string{"TDSP"}},
			rows:            rows,
			applicableTotal: "220.00",
			want:            "-10.00",
		},
		{
			name:            "no eligible rows",
			coupon:          Coupon{Value: "50%", FareCodes: []string{"OTHER"}},
			rows:            rows,
			applicableTotal: "220.00",
			want:            "0.00",
		},
		{
			name:            "items per usage keeps the most expensive row",
			coupon:          Coupon{Value: "100%", ItemsPerUsage: 1},
			rows:            rows,
			applicableTotal: "220.00",
			want:            "-100.00",
		},
		{
			name:            "items per usage keeps two rows",
			coupon:          Coupon{Value: "100%", ItemsPerUsage: 2},
			rows:            rows,
			applicableTotal: "220.00",
			want:            "-200.00",
		},
		{
			name:            "absolute amount",
			coupon:          Coupon{Value: "30"},
			rows:            rows,
			applicableTotal: "220.00",
			want:            "-30.00",
		},
		{
			name:            "absolute clamped to eligible total",
			coupon:          Coupon{Value: "500"},
			rows:            rows,
			applicableTotal: "220.00",
			want:            "-220.00",
		},
		{
			name:            "absolute clamped to applicable total",
			coupon:          Coupon{Value: "100"},
			rows:            rows,
			applicableTotal: "50.00",
			want:            "-50.00",
		},
		{
			name:            "fractional percentage stays unrounded",
			coupon:          Coupon{Value: "33%"},
			rows:            []Row{{FareCode: "T", Price: dec("10.00")}},
			applicableTotal: "10.00",
			want:            "-3.30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.coupon.Discount(tt.rows, dec(tt.applicableTotal))
			assert.True(t, dec(tt.want).Equal(got),
				"want %s, got %s", tt.want, got)
		})
	}
}

func TestDiscountNeverExceedsTotals(t *testing.T) {
	// The clamp invariant: |discount| <= min(eligible, applicable) for any
	// value, including oversized percentages handled upstream.
	rows := []Row{
		{FareCode: "A", Price: dec("80.00")},
		{FareCode: "B", Price: dec("40.00")},
	}
	for _, value := range []string{"100%", "99%", "1000", "120", "0"} {
		c := Coupon{Value: value}
		got := c.Discount(rows, dec("60.00"))
		assert.True(t, got.Neg().LessThanOrEqual(dec("60.00")),
			"value %s discounted %s beyond the applicable total", value, got)
		assert.True(t, got.LessThanOrEqual(decimal.Zero))
	}
}

func TestDiscountMalformedValueIsZero(t *testing.T) {
	c := Coupon{Value: "not-a-number"}
	got := c.Discount([]Row{{FareCode: "A", Price: dec("10.00")}}, dec("10.00"))
	assert.True(t, got.IsZero())
}

func TestInvalidErrorUnwrap(t *testing.T) {
	err := errors.Wrap(&InvalidError{Code: "X", Reason: ReasonExpired}, "validate")
	assert.ErrorIs(t, err, ErrCouponInvalid)
}
