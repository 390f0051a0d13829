package memory

import (
	"context"
	"slices"
	"time"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store.
type OrderStore struct {
	db *DB
}

// Create inserts o.
func (s *OrderStore) Create(_ context.Context, o *order.Order) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.orders[o.ID]; ok {
		return apperr.Internal("order already exists", nil)
	}
	s.db.orders[o.ID] = *cloneOrder(*o)
	return nil
}

// FindByID returns an order by id.
func (s *OrderStore) FindByID(_ context.Context, id string) (*order.Order, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	o, ok := s.db.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	return cloneOrder(o), nil
}

// UpdateStatus sets the status to to only while it is still from.
func (s *OrderStore) UpdateStatus(_ context.Context, id string, from, to order.Status, at time.Time) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	o, ok := s.db.orders[id]
	if !ok {
		return false, apperr.NotFound("order", id)
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	s.db.orders[id] = o
	return true, nil
}

// ListByUser returns the orders of userID, newest first.
func (s *OrderStore) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	return s.list(func(o *order.Order) bool { return o.UserID == userID }), nil
}

// List returns every order, newest first.
func (s *OrderStore) List(_ context.Context) ([]order.Order, error) {
	return s.list(nil), nil
}

func (s *OrderStore) list(keep func(*order.Order) bool) []order.Order {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]order.Order, 0, len(s.db.orders))
	for _, o := range s.db.orders {
		if keep == nil || keep(&o) {
			out = append(out, *cloneOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Delete removes an order.
func (s *OrderStore) Delete(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.orders[id]; !ok {
		return apperr.NotFound("order", id)
	}
	delete(s.db.orders, id)
	return nil
}

// restoreStatus reverts a status change made earlier in the same unit of work.
func (s *OrderStore) restoreStatus(id string, cur, prev order.Status) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if o, ok := s.db.orders[id]; ok && o.Status == cur {
		o.Status = prev
		s.db.orders[id] = o
	}
}
