package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var _ order.UnitOfWork = (*UnitOfWork)(nil)

// UnitOfWork runs a function against journaled stores. Every successful
// write records its inverse; when the function fails the inverses are
// applied newest first, so a failed checkout leaves no reservation, no
// redemption and no order behind. Writes are visible to other callers
// before the unit completes.
type UnitOfWork struct {
	db *DB
}

// UnitOfWork returns a UnitOfWork over db.
func (db *DB) UnitOfWork() *UnitOfWork { return &UnitOfWork{db: db} }

type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) record(fn func()) {
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

func (j *journal) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// Do implements order.UnitOfWork.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s order.Stores) error) (rerr error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := &journal{}
	stores := order.Stores{
		Inventory: &txProducts{ProductStore: u.db.Products(), j: j},
		Coupons:   &txCoupons{CouponStore: u.db.Coupons(), j: j},
		Orders:    &txOrders{OrderStore: u.db.Orders(), j: j},
	}
	defer func() {
		if r := recover(); r != nil {
			j.rollback()
			panic(r)
		}
		if rerr != nil {
			j.rollback()
		}
	}()
	return fn(ctx, stores)
}

type txProducts struct {
	*ProductStore
	j *journal
}

var _ inventory.Store = (*txProducts)(nil)

func (t *txProducts) ApplyStockDelta(ctx context.Context, id string, delta int) (*product.Product, error) {
	p, err := t.ProductStore.ApplyStockDelta(ctx, id, delta)
	if err != nil {
		return nil, err
	}
	t.j.record(func() { t.ProductStore.forceDelta(id, -delta) })
	return p, nil
}

type txCoupons struct {
	*CouponStore
	j *journal
}

var _ coupon.Store = (*txCoupons)(nil)

func (t *txCoupons) CompareAndDeactivate(ctx context.Context, id string) (bool, error) {
	ok, err := t.CouponStore.CompareAndDeactivate(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	t.j.record(func() { _ = t.CouponStore.Reactivate(context.Background(), id) })
	return true, nil
}

type txOrders struct {
	*OrderStore
	j *journal
}

var _ order.Store = (*txOrders)(nil)

func (t *txOrders) Create(ctx context.Context, o *order.Order) error {
	if err := t.OrderStore.Create(ctx, o); err != nil {
		return err
	}
	id := o.ID
	t.j.record(func() { _ = t.OrderStore.Delete(context.Background(), id) })
	return nil
}

func (t *txOrders) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	ok, err := t.OrderStore.UpdateStatus(ctx, id, from, to, at)
	if err != nil || !ok {
		return ok, err
	}
	t.j.record(func() { t.OrderStore.restoreStatus(id, to, from) })
	return true, nil
}
