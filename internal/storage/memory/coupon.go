package memory

import (
	"context"
	"slices"
	"time"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/coupon"
)

var _ coupon.Store = (*CouponStore)(nil)

// CouponStore implements coupon.Store.
type CouponStore struct {
	db *DB
}

// FindByCode matches code case-insensitively.
func (s *CouponStore) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	code = coupon.NormalizeCode(code)

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, c := range s.db.coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, apperr.NotFound("coupon", code)
}

// FindByID returns a coupon by id.
func (s *CouponStore) FindByID(_ context.Context, id string) (*coupon.Coupon, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.coupons[id]
	if !ok {
		return nil, apperr.NotFound("coupon", id)
	}
	return &c, nil
}

// CompareAndDeactivate flips an active coupon to inactive.
func (s *CouponStore) CompareAndDeactivate(_ context.Context, id string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.coupons[id]
	if !ok {
		return false, apperr.NotFound("coupon", id)
	}
	if !c.Active {
		return false, nil
	}
	c.Active = false
	c.UpdatedAt = time.Now().UTC()
	s.db.coupons[id] = c
	return true, nil
}

// Reactivate marks a coupon active again.
func (s *CouponStore) Reactivate(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	c, ok := s.db.coupons[id]
	if !ok {
		return apperr.NotFound("coupon", id)
	}
	c.Active = true
	s.db.coupons[id] = c
	return nil
}

// Create inserts c, rejecting duplicate codes.
func (s *CouponStore) Create(_ context.Context, c *coupon.Coupon) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, existing := range s.db.coupons {
		if existing.Code == c.Code {
			return coupon.ErrDuplicateCode
		}
	}
	s.db.coupons[c.ID] = *c
	return nil
}

// List returns coupons newest first.
func (s *CouponStore) List(_ context.Context) ([]coupon.Coupon, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]coupon.Coupon, 0, len(s.db.coupons))
	for _, c := range s.db.coupons {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b coupon.Coupon) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// Delete removes a coupon.
func (s *CouponStore) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.coupons[id]; !ok {
		return apperr.NotFound("coupon", id)
	}
	delete(s.db.coupons, id)
	return nil
}
