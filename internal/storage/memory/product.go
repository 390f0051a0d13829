package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
)

var (
	_ product.Repository = (*ProductStore)(nil)
	_ inventory.Store    = (*ProductStore)(nil)
)

// ProductStore implements product.Repository and inventory.Store.
type ProductStore struct {
	db *DB
}

// List returns all products ordered by name.
func (s *ProductStore) List(_ context.Context) ([]product.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]product.Product, 0, len(s.db.products))
	for _, p := range s.db.products {
		out = append(out, *cloneProduct(p))
	}
	slices.SortFunc(out, func(a, b product.Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// GetByID returns a product or *product.NotFoundError.
func (s *ProductStore) GetByID(_ context.Context, id string) (*product.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.products[id]
	if !ok {
		return nil, &product.NotFoundError{ProductID: id}
	}
	return cloneProduct(p), nil
}

// FindByID is GetByID under the inventory contract.
func (s *ProductStore) FindByID(ctx context.Context, id string) (*product.Product, error) {
	return s.GetByID(ctx, id)
}

// GetByIDs returns the products that exist among ids.
func (s *ProductStore) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.db.products[id]; ok {
			out = append(out, *cloneProduct(p))
		}
	}
	return out, nil
}

// Create inserts p.
func (s *ProductStore) Create(_ context.Context, p *product.Product) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.products[p.ID] = *cloneProduct(*p)
	return nil
}

// Update overwrites the editable fields of p. Stock and Sold are kept.
func (s *ProductStore) Update(_ context.Context, p *product.Product) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	cur, ok := s.db.products[p.ID]
	if !ok {
		return &product.NotFoundError{ProductID: p.ID}
	}
	next := *cloneProduct(*p)
	next.Stock, next.Sold, next.CreatedAt = cur.Stock, cur.Sold, cur.CreatedAt
	s.db.products[p.ID] = next
	p.Stock, p.Sold = cur.Stock, cur.Sold
	return nil
}

// ApplyStockDelta adds delta to stock if the result stays non-negative.
func (s *ProductStore) ApplyStockDelta(_ context.Context, id string, delta int) (*product.Product, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.products[id]
	if !ok {
		return nil, &product.NotFoundError{ProductID: id}
	}
	if p.Stock+delta < 0 {
		return nil, &inventory.InsufficientStockError{ProductID: id, Requested: -delta, Available: p.Stock}
	}
	if delta > product.MaxStock-p.Stock {
		return nil, apperr.Validation("stock of product %s would exceed %d", id, product.MaxStock)
	}
	p.Stock += delta
	s.db.products[id] = p
	return cloneProduct(p), nil
}

// forceDelta applies delta without the floor check. Used only to undo a
// delta applied earlier in the same unit of work.
func (s *ProductStore) forceDelta(id string, delta int) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p, ok := s.db.products[id]
	if !ok {
		return
	}
	p.Stock += delta
	s.db.products[id] = p
}
