// Package coupon implements coupon validation and discount computation.
package coupon

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind distinguishes the two coupon value forms.
type Kind string

const (
	// KindPercentage is a value like "20%": a percentage of the eligible rows.
	KindPercentage Kind = "percentage"
	// KindAmount is a value like "10" or "8.5": an absolute discount.
	KindAmount Kind = "amount"
)

// ErrCouponInvalid is the sentinel wrapped by every *InvalidError. Callers
// must recover by dropping the coupon and re-pricing the order.
var ErrCouponInvalid = errors.New("coupon not valid")

// Reason explains why a coupon failed validation.
type Reason string

const (
	ReasonUnknownCode    Reason = "unknown code"
	ReasonExpired        Reason = "outside validity window"
	ReasonUsageExhausted Reason = "usage cap exhausted"
	ReasonWrongUser      Reason = "bound to a different user"
	ReasonMalformedValue Reason = "malformed value"
)

// InvalidError reports a coupon that failed validation, with the reason.
type InvalidError struct {
	Code   string
	Reason Reason
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("coupon %q not valid: %s", e.Code, e.Reason)
}

func (e *InvalidError) Unwrap() error { return ErrCouponInvalid }

// valuePattern is the only accepted shape of a coupon value string: digits,
// an optional fractional part, an optional trailing percent sign.
var valuePattern = regexp.MustCompile(`^\d+(\.\d+)?%?$`)

// Coupon is a discount code. Value is either a percentage string ("20%") or
// an absolute decimal amount ("10", "8.5"). MaxUsage 0 means unlimited global
// uses; ItemsPerUsage 0 means the coupon applies to every eligible order row,
// N > 0 restricts it to the N most expensive eligible rows per use. An empty
// FareCodes set means every fare is eligible.
type Coupon struct {
	ID            int64
	Conference    string
	Code          string
	Value         string
	Description   string
	StartValidity *time.Time
	EndValidity   *time.Time
	MaxUsage      int
	ItemsPerUsage int
	UserID        int64 // 0 = not bound to a user
	FareCodes     []string
}

// Kind returns the coupon's value form. Malformed values are rejected by
// Validate; Kind itself only inspects the trailing percent sign.
func (c *Coupon) Kind() Kind {
	if len(c.Value) > 0 && c.Value[len(c.Value)-1] == '%' {
		return KindPercentage
	}
	return KindAmount
}

// percentage returns the numeric part of a KindPercentage value.
func (c *Coupon) percentage() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Value[:len(c.Value)-1])
}

// amount returns the absolute value of a KindAmount coupon.
func (c *Coupon) amount() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Value)
}

// Repository provides coupon lookup and usage counting.
type Repository interface {
	// ByCodes returns the coupons with the given codes within a conference.
	ByCodes(ctx context.Context, conference string, codes []string) ([]Coupon, error)
	// UsageCount returns how many ticketless order items carry the coupon
	// code, i.e. how many times the coupon has been spent.
	UsageCount(ctx context.Context, conference, code string) (int, error)
}

// Engine validates coupons against users, dates and global usage counts.
type Engine struct {
	repo Repository
}

// NewEngine creates an Engine backed by the given Repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// Resolve fetches the coupons for the given codes, preserving their order.
// Unknown codes yield an *InvalidError so the caller can drop them and
// re-price.
func (e *Engine) Resolve(ctx context.Context, conference string, codes []string) ([]Coupon, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	found, err := e.repo.ByCodes(ctx, conference, codes)
	if err != nil {
		return nil, errors.Wrap(err, "fetch coupons")
	}
	byCode := make(map[string]Coupon, len(found))
	for _, c := range found {
		byCode[c.Code] = c
	}
	coupons := make([]Coupon, 0, len(codes))
	for _, code := range codes {
		c, ok := byCode[code]
		if !ok {
			return nil, &InvalidError{Code: code, Reason: ReasonUnknownCode}
		}
		coupons = append(coupons, c)
	}
	return coupons, nil
}

// Validate checks a coupon against the purchasing user and date. It fails
// when the value string is malformed, asOf is outside the validity window
// (when both ends are set), the global usage cap is exhausted, or the coupon
// is bound to a different user.
func (e *Engine) Validate(ctx context.Context, c *Coupon, userID int64, asOf time.Time) error {
	if !valuePattern.MatchString(c.Value) {
		return &InvalidError{Code: c.Code, Reason: ReasonMalformedValue}
	}

	if c.StartValidity != nil && c.EndValidity != nil {
		day := asOf.Truncate(24 * time.Hour)
		if day.Before(c.StartValidity.Truncate(24*time.Hour)) || day.After(c.EndValidity.Truncate(24*time.Hour)) {
			return &InvalidError{Code: c.Code, Reason: ReasonExpired}
		}
	}

	if c.MaxUsage > 0 {
		used, err := e.repo.UsageCount(ctx, c.Conference, c.Code)
		if err != nil {
			return errors.Wrap(err, "count coupon usage")
		}
		if used >= c.MaxUsage {
			return &InvalidError{Code: c.Code, Reason: ReasonUsageExhausted}
		}
	}

	if c.UserID != 0 && c.UserID != userID {
		return &InvalidError{Code: c.Code, Reason: ReasonWrongUser}
	}

	return nil
}
