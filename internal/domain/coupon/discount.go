package coupon

import (
	"sort"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Row is one single-quantity order line as seen by discount computation.
// Price is the unrounded gross price of the row.
type Row struct {
	FareCode string
	Price    decimal.Decimal
}

// Discount computes the discount the coupon contributes against the given
// rows. applicableTotal is the order's running total at the time of
// application: the discount never exceeds it, nor the eligible-rows subtotal.
//
// Steps:
//  1. keep only rows whose fare is in the coupon's fare set (no restriction
//     means every row is eligible);
//  2. with ItemsPerUsage > 0, keep only the N most expensive eligible rows;
//  3. sum the kept rows' unrounded prices into the eligible total;
//  4. percentage coupons take pct/100 of the eligible total, amount coupons
//     take their absolute value;
//  5. clamp to min(discount, eligible total, applicableTotal).
//
// The result is negative (a debit against the order), or zero when the
// coupon contributes nothing.
func (c *Coupon) Discount(rows []Row, applicableTotal decimal.Decimal) decimal.Decimal {
	eligible := rows
	if len(c.FareCodes) > 0 {
		allowed := make(map[string]struct{}, len(c.FareCodes))
		for _, code := range c.FareCodes {
			allowed[code] = struct{}{}
		}
		eligible = nil
		for _, r := range rows {
			if _, ok := allowed[r.FareCode]; ok {
				eligible = append(eligible, r)
			}
		}
	}

	if c.ItemsPerUsage > 0 {
		sorted := make([]Row, len(eligible))
		copy(sorted, eligible)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Price.GreaterThan(sorted[j].Price)
		})
		if len(sorted) > c.ItemsPerUsage {
			sorted = sorted[:c.ItemsPerUsage]
		}
		eligible = sorted
	}

	eligibleTotal := decimal.Zero
	for _, r := range eligible {
		eligibleTotal = eligibleTotal.Add(r.Price)
	}

	var discount decimal.Decimal
	switch c.Kind() {
	case KindPercentage:
		pct, err := c.percentage()
		if err != nil {
			return decimal.Zero
		}
		discount = eligibleTotal.Mul(pct).Div(hundred)
	default:
		amount, err := c.amount()
		if err != nil {
			return decimal.Zero
		}
		discount = amount
	}

	// A coupon must never reduce a line below zero nor discount more than
	// the order's current running total.
	if discount.GreaterThan(eligibleTotal) {
		discount = eligibleTotal
	}
	if discount.GreaterThan(applicableTotal) {
		discount = applicableTotal
	}

	return discount.Neg()
}
