// Package coupon implements the coupon registry: lookup by code, one-time
// redemption and admin deactivation.
package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
)

// MaxCodeLength bounds coupon codes.
const MaxCodeLength = 8

// Coupon is a single-use percentage discount.
type Coupon struct {
	ID        string
	Code      string
	Discount  int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvalidCouponError reports an unknown or already inactive coupon code.
type InvalidCouponError struct {
	Code string
}

func (e *InvalidCouponError) Error() string {
	return fmt.Sprintf("coupon %s is invalid or no longer active", e.Code)
}

// Kind implements apperr.Kinded.
func (e *InvalidCouponError) Kind() apperr.Kind { return apperr.KindInvalidCoupon }

// ErrDuplicateCode is returned by Store.Create when the code is taken.
var ErrDuplicateCode = apperr.Validation("coupon code already exists")

// Store defines coupon persistence.
//
// FindByCode and FindByID return an apperr not-found error when nothing
// matches. CompareAndDeactivate flips active from true to false and reports
// whether this call performed the flip. Reactivate is the inverse used when a
// redemption has to be compensated.
type Store interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id string) (*Coupon, error)
	CompareAndDeactivate(ctx context.Context, id string) (bool, error)
	Reactivate(ctx context.Context, id string) error
	Create(ctx context.Context, c *Coupon) error
	List(ctx context.Context) ([]Coupon, error)
	Delete(ctx context.Context, id string) error
}

// NormalizeCode returns the canonical form codes are stored and matched in.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ApplyDiscount returns the discount amount for total at pct percent, rounded
// to cents, and the remaining amount.
func ApplyDiscount(total decimal.Decimal, pct int) (discount, final decimal.Decimal) {
	discount = total.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Round(2)
	return discount, total.Sub(discount)
}
