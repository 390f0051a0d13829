package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/coupon"
)

const couponColumns = `id, code, discount, active, created_at, updated_at`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC, id`

	// Only the statement that observes active = TRUE gets a row back.
	deactivateCouponSQL = `UPDATE coupons SET active = FALSE, updated_at = now()
		WHERE id = $1 AND active`

	reactivateCouponSQL = `UPDATE coupons SET active = TRUE, updated_at = now() WHERE id = $1`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`

	createCouponSQL = `INSERT INTO coupons (id, code, discount, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`
)

var _ coupon.Store = (*CouponStore)(nil)

// CouponStore implements coupon.Store.
type CouponStore struct {
	q Querier
}

// NewCouponStore returns a CouponStore that runs on q.
func NewCouponStore(q Querier) *CouponStore {
	return &CouponStore{q: q}
}

// FindByCode looks up a coupon by its code (case-insensitive).
func (s *CouponStore) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return s.findOne(ctx, getCouponByCodeSQL, code)
}

// FindByID looks up a coupon by id.
func (s *CouponStore) FindByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return s.findOne(ctx, getCouponByIDSQL, id)
}

func (s *CouponStore) findOne(ctx context.Context, sql, key string) (*coupon.Coupon, error) {
	rows, err := s.q.Query(ctx, sql, key)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %q: %w", key, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("coupon", key)
		}
		return nil, fmt.Errorf("finding coupon %q: %w", key, err)
	}
	return &c, nil
}

// CompareAndDeactivate flips an active coupon to inactive.
func (s *CouponStore) CompareAndDeactivate(ctx context.Context, id string) (bool, error) {
	tag, err := s.q.Exec(ctx, deactivateCouponSQL, id)
	if err != nil {
		return false, fmt.Errorf("deactivating coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.q.QueryRow(ctx, couponExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking coupon %q: %w", id, err)
	}
	if !exists {
		return false, apperr.NotFound("coupon", id)
	}
	return false, nil
}

// Reactivate marks a coupon active again.
func (s *CouponStore) Reactivate(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, reactivateCouponSQL, id)
	if err != nil {
		return fmt.Errorf("reactivating coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("coupon", id)
	}
	return nil
}

// Create inserts c. A taken code yields coupon.ErrDuplicateCode.
func (s *CouponStore) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := s.q.Exec(ctx, createCouponSQL, c.ID, c.Code, c.Discount, c.Active, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// List returns coupons newest first.
func (s *CouponStore) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := s.q.Query(ctx, listCouponsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Delete removes a coupon.
func (s *CouponStore) Delete(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("coupon", id)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.Discount, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
