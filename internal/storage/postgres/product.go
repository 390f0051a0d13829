package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
)

const productColumns = `id, name, description, brand, COALESCE(collection_id, ''), price, stock, sold, photos, created_at, updated_at`

const (
	listProductsSQL = `SELECT ` + productColumns + ` FROM products ORDER BY name, id`

	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	createProductSQL = `INSERT INTO products
		(id, name, description, brand, collection_id, price, stock, sold, photos, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)`

	updateProductSQL = `UPDATE products
		SET name = $2, description = $3, brand = $4, collection_id = NULLIF($5, ''),
			price = $6, photos = $7, updated_at = $8
		WHERE id = $1
		RETURNING stock, sold, created_at`

	// The floor is part of the WHERE clause, so concurrent deltas serialize on
	// the row lock and each re-checks the committed stock.
	applyStockDeltaSQL = `UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING ` + productColumns

	getProductStockSQL = `SELECT stock FROM products WHERE id = $1`
)

var (
	_ product.Repository = (*ProductStore)(nil)
	_ inventory.Store    = (*ProductStore)(nil)
)

// ProductStore implements product.Repository and inventory.Store.
type ProductStore struct {
	q Querier
}

// NewProductStore returns a ProductStore that runs on q.
func NewProductStore(q Querier) *ProductStore {
	return &ProductStore{q: q}
}

// List returns all products ordered by name.
func (s *ProductStore) List(ctx context.Context) ([]product.Product, error) {
	rows, err := s.q.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (s *ProductStore) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := s.q.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &product.NotFoundError{ProductID: id}
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// FindByID is GetByID under the inventory contract.
func (s *ProductStore) FindByID(ctx context.Context, id string) (*product.Product, error) {
	return s.GetByID(ctx, id)
}

// GetByIDs returns products matching any of the given IDs.
func (s *ProductStore) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := s.q.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// Create inserts p.
func (s *ProductStore) Create(ctx context.Context, p *product.Product) error {
	photos := p.Photos
	if photos == nil {
		photos = []string{}
	}
	_, err := s.q.Exec(ctx, createProductSQL,
		p.ID, p.Name, p.Description, p.Brand, p.CollectionID,
		p.Price, p.Stock, p.Sold, photos, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating product %q: %w", p.ID, err)
	}
	return nil
}

// Update writes the editable fields of p and refreshes p with the stored
// stock counters.
func (s *ProductStore) Update(ctx context.Context, p *product.Product) error {
	photos := p.Photos
	if photos == nil {
		photos = []string{}
	}
	err := s.q.QueryRow(ctx, updateProductSQL,
		p.ID, p.Name, p.Description, p.Brand, p.CollectionID, p.Price, photos, p.UpdatedAt,
	).Scan(&p.Stock, &p.Sold, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &product.NotFoundError{ProductID: p.ID}
		}
		return fmt.Errorf("updating product %q: %w", p.ID, err)
	}
	return nil
}

// ApplyStockDelta adds delta to stock if the result stays non-negative.
func (s *ProductStore) ApplyStockDelta(ctx context.Context, id string, delta int) (*product.Product, error) {
	rows, err := s.q.Query(ctx, applyStockDeltaSQL, id, delta)
	if err == nil {
		var p product.Product
		if p, err = pgx.CollectExactlyOneRow(rows, scanProduct); err == nil {
			return &p, nil
		}
	}
	if isOutOfRange(err) {
		return nil, apperr.Validation("stock of product %s would exceed %d", id, product.MaxStock)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("applying stock delta to %q: %w", id, err)
	}

	// Nothing matched: either the product is gone or the floor was hit.
	var stock int
	if err := s.q.QueryRow(ctx, getProductStockSQL, id).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &product.NotFoundError{ProductID: id}
		}
		return nil, fmt.Errorf("reading stock of %q: %w", id, err)
	}
	return nil, &inventory.InsufficientStockError{ProductID: id, Requested: -delta, Available: stock}
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var p product.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Brand, &p.CollectionID,
		&p.Price, &p.Stock, &p.Sold, &p.Photos, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}
