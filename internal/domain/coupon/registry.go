package coupon

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/apperr"
)

// Redemption is the result of consuming a coupon.
type Redemption struct {
	CouponID string
	Code     string
	Discount int
}

// Registry validates and consumes coupons.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry creates a Registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Lookup returns the active coupon for code without consuming it.
func (r *Registry) Lookup(ctx context.Context, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.Validation("coupon code is required")
	}
	c, err := r.store.FindByCode(ctx, code)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, &InvalidCouponError{Code: code}
		}
		return nil, errors.Wrapf(err, "find coupon %s", code)
	}
	if !c.Active {
		return nil, &InvalidCouponError{Code: code}
	}
	return c, nil
}

// Redeem consumes the coupon for code. Only the caller whose compare-and-set
// flips the coupon inactive succeeds; everyone else gets InvalidCouponError.
func (r *Registry) Redeem(ctx context.Context, code string) (*Redemption, error) {
	c, err := r.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	flipped, err := r.store.CompareAndDeactivate(ctx, c.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "deactivate coupon %s", c.Code)
	}
	if !flipped {
		return nil, &InvalidCouponError{Code: c.Code}
	}
	return &Redemption{CouponID: c.ID, Code: c.Code, Discount: c.Discount}, nil
}

// Deactivate marks a coupon inactive. Deactivating an inactive coupon is a
// no-op.
func (r *Registry) Deactivate(ctx context.Context, id string) (*Coupon, error) {
	c, err := r.store.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %s", id)
	}
	if _, err := r.store.CompareAndDeactivate(ctx, id); err != nil {
		return nil, errors.Wrapf(err, "deactivate coupon %s", id)
	}
	c.Active = false
	return c, nil
}

// Create registers a new active coupon.
func (r *Registry) Create(ctx context.Context, code string, discount int) (*Coupon, error) {
	code = NormalizeCode(code)
	switch {
	case code == "":
		return nil, apperr.Validation("coupon code is required")
	case utf8.RuneCountInString(code) > MaxCodeLength:
		return nil, apperr.Validation("coupon code should not be more than %d characters", MaxCodeLength)
	case discount < 0 || discount > 100:
		return nil, apperr.Validation("coupon discount must be between 0 and 100")
	}
	now := r.now().UTC()
	c := &Coupon{
		ID:        uuid.NewString(),
		Code:      code,
		Discount:  discount,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			return nil, ErrDuplicateCode
		}
		return nil, errors.Wrap(err, "create coupon")
	}
	return c, nil
}

// List returns every coupon.
func (r *Registry) List(ctx context.Context) ([]Coupon, error) {
	out, err := r.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return out, nil
}

// Delete removes a coupon.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return errors.Wrapf(err, "delete coupon %s", id)
	}
	return nil
}
