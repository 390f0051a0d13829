package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

func seedDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	db := New()
	require.NoError(t, db.Products().Create(ctx, &product.Product{ID: "p1", Name: "Mug", Price: decimal.NewFromInt(10), Stock: 5}))
	require.NoError(t, db.Coupons().Create(ctx, &coupon.Coupon{ID: "c1", Code: "SAVE10", Discount: 10, Active: true}))
	require.NoError(t, db.Orders().Create(ctx, &order.Order{ID: "o1", UserID: "alice", Status: order.StatusOrdered}))
	return db
}

func TestUnitOfWork_RollbackUndoesEveryWrite(t *testing.T) {
	db := seedDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.UnitOfWork().Do(ctx, func(ctx context.Context, s order.Stores) error {
		_, err := s.Inventory.ApplyStockDelta(ctx, "p1", -3)
		require.NoError(t, err)
		ok, err := s.Coupons.CompareAndDeactivate(ctx, "c1")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, s.Orders.Create(ctx, &order.Order{ID: "o2", Status: order.StatusOrdered}))
		ok, err = s.Orders.UpdateStatus(ctx, "o1", order.StatusOrdered, order.StatusShipped, time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := db.Products().GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	c, err := db.Coupons().FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.Active)
	_, err = db.Orders().FindByID(ctx, "o2")
	assert.Error(t, err)
	o, err := db.Orders().FindByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusOrdered, o.Status)
}

func TestUnitOfWork_CommitKeepsWrites(t *testing.T) {
	db := seedDB(t)
	ctx := context.Background()

	err := db.UnitOfWork().Do(ctx, func(ctx context.Context, s order.Stores) error {
		_, err := s.Inventory.ApplyStockDelta(ctx, "p1", -2)
		return err
	})
	require.NoError(t, err)

	p, err := db.Products().GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stock)
}

func TestUnitOfWork_RollbackOnPanic(t *testing.T) {
	db := seedDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = db.UnitOfWork().Do(ctx, func(ctx context.Context, s order.Stores) error {
			if _, err := s.Inventory.ApplyStockDelta(ctx, "p1", -5); err != nil {
				return err
			}
			panic("handler bug")
		})
	})

	p, err := db.Products().GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
}

// A failed conditional write records nothing to undo.
func TestUnitOfWork_FailedWritesAreNotJournaled(t *testing.T) {
	db := seedDB(t)
	ctx := context.Background()
	_, err := db.Coupons().CompareAndDeactivate(ctx, "c1")
	require.NoError(t, err)

	err = db.UnitOfWork().Do(ctx, func(ctx context.Context, s order.Stores) error {
		ok, err := s.Coupons.CompareAndDeactivate(ctx, "c1")
		require.NoError(t, err)
		require.False(t, ok)
		_, err = s.Inventory.ApplyStockDelta(ctx, "p1", -6)
		return err
	})
	require.Error(t, err)

	c, err := db.Coupons().FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, c.Active, "rollback must not reactivate a coupon it did not deactivate")
}

func TestUnitOfWork_CancelledContext(t *testing.T) {
	db := seedDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := db.UnitOfWork().Do(ctx, func(context.Context, order.Stores) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestProductStore_StockCeiling(t *testing.T) {
	db := seedDB(t)
	ctx := context.Background()

	_, err := db.Products().ApplyStockDelta(ctx, "p1", product.MaxStock)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	p, err := db.Products().ApplyStockDelta(ctx, "p1", product.MaxStock-5)
	require.NoError(t, err)
	assert.Equal(t, product.MaxStock, p.Stock)
}
