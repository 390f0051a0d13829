package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.UnitOfWork = (*UnitOfWork)(nil)

// UnitOfWork runs each call in one database transaction. The transaction is
// committed when fn returns nil and rolled back otherwise.
type UnitOfWork struct {
	pool *pgxpool.Pool
}

// NewUnitOfWork returns a UnitOfWork on pool.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{pool: pool}
}

// Do implements order.UnitOfWork.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s order.Stores) error) error {
	return pgx.BeginFunc(ctx, u.pool, func(tx pgx.Tx) error {
		return fn(ctx, Stores(tx))
	})
}

// Stores binds every order collaborator to q.
func Stores(q Querier) order.Stores {
	return order.Stores{
		Inventory: NewProductStore(q),
		Coupons:   NewCouponStore(q),
		Orders:    NewOrderStore(q),
	}
}
