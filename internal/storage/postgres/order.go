package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/order"
)

const orderColumns = `id, user_id, items, shipping_address, phone_number, payment_method, coupon_code,
	items_price, discount_price, tax_price, shipping_price, total_price, status, transaction_id,
	created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id`

	// Compare-and-set on status: a concurrent transition makes this a no-op.
	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	q Querier
}

// NewOrderStore returns an OrderStore that runs on q.
func NewOrderStore(q Querier) *OrderStore {
	return &OrderStore{q: q}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column.
func (s *OrderStore) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = s.q.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, itemsJSON, o.ShippingAddress, o.PhoneNumber, string(o.PaymentMethod), o.CouponCode,
		o.ItemsPrice, o.DiscountPrice, o.TaxPrice, o.ShippingPrice, o.TotalPrice,
		string(o.Status), o.TransactionID, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// FindByID returns an order by id.
func (s *OrderStore) FindByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := s.q.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("order", id)
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// UpdateStatus sets the status to to only while it is still from.
func (s *OrderStore) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to), at)
	if err != nil {
		return false, fmt.Errorf("updating order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.q.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return false, apperr.NotFound("order", id)
	}
	return false, nil
}

// ListByUser returns the orders of userID, newest first.
func (s *OrderStore) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := s.q.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// List returns every order, newest first.
func (s *OrderStore) List(ctx context.Context) ([]order.Order, error) {
	rows, err := s.q.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// Delete removes an order.
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	tag, err := s.q.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order", id)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		items         []byte
		paymentMethod string
		status        string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &o.ShippingAddress, &o.PhoneNumber, &paymentMethod, &o.CouponCode,
		&o.ItemsPrice, &o.DiscountPrice, &o.TaxPrice, &o.ShippingPrice, &o.TotalPrice,
		&status, &o.TransactionID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.PaymentMethod = order.PaymentMethod(paymentMethod)
	o.Status = order.Status(status)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling order %q items: %w", o.ID, err)
	}
	return o, nil
}
