package order

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confops/billing-engine/internal/domain/coupon"
	"github.com/confops/billing-engine/internal/domain/fare"
)

type fareRepoStub struct {
	fares map[string]fare.Fare
}

func (s *fareRepoStub) Available(_ context.Context, _ time.Time) ([]fare.Fare, error) {
	var out []fare.Fare
	for _, f := range s.fares {
		out = append(out, f)
	}
	return out, nil
}

func (s *fareRepoStub) ByCodes(_ context.Context, _ string, codes []string) ([]fare.Fare, error) {
	var out []fare.Fare
	for _, code := range codes {
		if f, ok := s.fares[code]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

type couponRepoStub struct {
	coupons map[string]coupon.Coupon
	usage   map[string]int
}

func (s *couponRepoStub) ByCodes(_ context.Context, _ string, codes []string) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	for _, code := range codes {
		if c, ok := s.coupons[code]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *couponRepoStub) UsageCount(_ context.Context, _, code string) (int, error) {
	return s.usage[code], nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var (
	vat20 = &fare.Vat{ID: 1, Rate: dec("20"), Description: "standard"}
	vat10 = &fare.Vat{ID: 2, Rate: dec("10"), Description: "reduced"}
)

func testEngine(coupons map[string]coupon.Coupon) *PricingEngine {
	fares := &fareRepoStub{fares: map[string]fare.Fare{
		"TESP": {ID: 1, Code: "TESP", Name: "Early Bird", Price: dec("100.00"), Vat: vat20},
		"TDSP": {ID: 2, Code: "TDSP", Name: "Day Pass", Price: dec("20.00"), Vat: vat10},
		"FREE": {ID: 3, Code: "FREE", Name: "Community", Price: dec("0.00"), Vat: vat20},
	}}
	return NewPricingEngine(
		"test",
		fare.NewCatalog(fares, nil),
		coupon.NewEngine(&couponRepoStub{coupons: coupons}),
	)
}

func TestQuoteValidation(t *testing.T) {
	e := testEngine(nil)
	ctx := context.Background()
	now := time.Now()

	t.Run("empty items", func(t *testing.T) {
		_, err := e.Quote(ctx, nil, nil, 0, now)
		assert.ErrorIs(t, err, ErrEmptyItems)
	})

	t.Run("zero quantity", func(t *testing.T) {
		_, err := e.Quote(ctx, []RequestRow{{FareCode: "TESP", Qty: 0}}, nil, 0, now)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("negative quantity", func(t *testing.T) {
		_, err := e.Quote(ctx, []RequestRow{{FareCode: "TESP", Qty: -1}}, nil, 0, now)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("unknown fare", func(t *testing.T) {
		_, err := e.Quote(ctx, []RequestRow{{FareCode: "NOPE", Qty: 1}}, nil, 0, now)
		assert.ErrorIs(t, err, fare.ErrFareUnavailable)
	})

	t.Run("unknown coupon", func(t *testing.T) {
		_, err := e.Quote(ctx, []RequestRow{{FareCode: "TESP", Qty: 1}}, []string{"NOPE"}, 0, now)
		assert.ErrorIs(t, err, coupon.ErrCouponInvalid)
	})
}

func TestQuoteExpandsQuantities(t *testing.T) {
	e := testEngine(nil)
	calc, err := e.Quote(context.Background(), []RequestRow{
		{FareCode: "TESP", Qty: 2},
		{FareCode: "TDSP", Qty: 1},
	}, nil, 0, time.Now())
	require.NoError(t, err)

	require.Len(t, calc.Units, 3)
	assert.Equal(t, "TESP", calc.Units[0].Fare.Code)
	assert.Equal(t, "TESP", calc.Units[1].Fare.Code)
	assert.Equal(t, "TDSP", calc.Units[2].Fare.Code)
	assert.True(t, dec("220.00").Equal(calc.Gross))
	assert.True(t, dec("220.00").Equal(calc.Total))
	assert.Empty(t, calc.Discounts)
}

func TestQuotePercentagesDoNotCompound(t *testing.T) {
	// Two 10% coupons each price against the original rows: 2x10% of 200,
	// not 10% then 10% of the remainder.
	e := testEngine(map[string]coupon.Coupon{
		"TENA": {Code: "TENA", Value: "10%"},
		"TENB": {Code: "TENB", Value: "10%"},
	})
	calc, err := e.Quote(context.Background(), []RequestRow{
		{FareCode: "TESP", Qty: 2},
	}, []string{"TENA", "TENB"}, 0, time.Now())
	require.NoError(t, err)

	require.Len(t, calc.Discounts, 2)
	assert.True(t, dec("-20.00").Equal(calc.Discounts[0].Amount))
	assert.True(t, dec("-20.00").Equal(calc.Discounts[1].Amount))
	assert.True(t, dec("160.00").Equal(calc.Total))
}

func TestQuoteAbsoluteAfterPercentage(t *testing.T) {
	// The absolute coupon is listed first but applied second, against the
	// total the percentage pass left.
	e := testEngine(map[string]coupon.Coupon{
		"CASH": {Code: "CASH", Value: "500"},
		"HALF": {Code: "HALF", Value: "50%"},
	})
	calc, err := e.Quote(context.Background(), []RequestRow{
		{FareCode: "TESP", Qty: 1},
	}, []string{"CASH", "HALF"}, 0, time.Now())
	require.NoError(t, err)

	require.Len(t, calc.Discounts, 2)
	assert.Equal(t, "HALF", calc.Discounts[0].Coupon.Code)
	assert.True(t, dec("-50.00").Equal(calc.Discounts[0].Amount))
	assert.Equal(t, "CASH", calc.Discounts[1].Coupon.Code)
	assert.True(t, dec("-50.00").Equal(calc.Discounts[1].Amount),
		"absolute coupon must be clamped to the remaining balance, got %s", calc.Discounts[1].Amount)
	assert.True(t, calc.Total.IsZero())
}

func TestQuoteRestrictedCouponVat(t *testing.T) {
	// A coupon restricted to TDSP discounts only those rows and inherits
	// their VAT regime.
	e := testEngine(map[string]coupon.Coupon{
		"DAYOFF": {Code: "DAYOFF", Value: "100%", FareCodes: []string{"TDSP"}},
	})
	calc, err := e.Quote(context.Background(), []RequestRow{
		{FareCode: "TESP", Qty: 1},
		{FareCode: "TDSP", Qty: 1},
	}, []string{"DAYOFF"}, 0, time.Now())
	require.NoError(t, err)

	require.Len(t, calc.Discounts, 1)
	assert.True(t, dec("-20.00").Equal(calc.Discounts[0].Amount))
	require.NotNil(t, calc.Discounts[0].Vat)
	assert.Equal(t, vat10.ID, calc.Discounts[0].Vat.ID)
	assert.True(t, dec("100.00").Equal(calc.Total))
}

func TestQuoteUnrestrictedCouponVat(t *testing.T) {
	e := testEngine(map[string]coupon.Coupon{
		"TEN": {Code: "TEN", Value: "10%"},
	})
	calc, err := e.Quote(context.Background(), []RequestRow{
		{FareCode: "TESP", Qty: 1},
		{FareCode: "TDSP", Qty: 1},
	}, []string{"TEN"}, 0, time.Now())
	require.NoError(t, err)

	require.Len(t, calc.Discounts, 1)
	require.NotNil(t, calc.Discounts[0].Vat)
	assert.Equal(t, vat20.ID, calc.Discounts[0].Vat.ID)
}

func TestQuoteZeroDiscountIsDropped(t *testing.T) {
	// A coupon restricted to fares absent from the order contributes nothing
	// and produces no discount row.
	e := testEngine(map[string]coupon.Coupon{
		"ELSEWHERE": {Code: "ELSEWHERE", Value: "50%", FareCodes: []string{"OTHER"}},
	})
	calc, err := e.Quote(context.Background(), []RequestRow{
		{FareCode: "TESP", Qty: 1},
	}, []string{"ELSEWHERE"}, 0, time.Now())
	require.NoError(t, err)

	assert.Empty(t, calc.Discounts)
	assert.True(t, dec("100.00").Equal(calc.Total))
}

func TestQuoteFullDiscountPricesToZero(t *testing.T) {
	e := testEngine(map[string]coupon.Coupon{
		"SPEAKER": {Code: "SPEAKER", Value: "100%"},
	})
	calc, err := e.Quote(context.Background(), []RequestRow{
		{FareCode: "TESP", Qty: 1},
	}, []string{"SPEAKER"}, 0, time.Now())
	require.NoError(t, err)

	assert.True(t, calc.Zero())
}

func TestQuoteZeroPriceFare(t *testing.T) {
	e := testEngine(nil)
	calc, err := e.Quote(context.Background(), []RequestRow{
		{FareCode: "FREE", Qty: 1},
	}, nil, 0, time.Now())
	require.NoError(t, err)

	assert.True(t, calc.Zero())
	require.Len(t, calc.Units, 1)
}
