package product

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
)

// MaxNameLength bounds product names.
const MaxNameLength = 120

// MaxStock bounds a product's stock and any single stock movement. It is the
// range of the stock column.
const MaxStock = math.MaxInt32

// Product is a catalog item. Stock is owned by the inventory ledger.
type Product struct {
	ID           string
	Name         string
	Description  string
	Brand        string
	CollectionID string
	Price        decimal.Decimal
	Stock        int
	Sold         int
	Photos       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NotFoundError indicates a requested product does not exist.
type NotFoundError struct {
	ProductID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// Kind implements apperr.Kinded.
func (e *NotFoundError) Kind() apperr.Kind { return apperr.KindNotFound }

// Repository defines catalog persistence. Stock is never written through
// Create or Update except for the initial value.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
}

// Draft holds the caller-editable fields of a product.
type Draft struct {
	Name         string
	Description  string
	Brand        string
	CollectionID string
	Price        decimal.Decimal
	Stock        int
	Photos       []string
}

// Validate checks a draft before it is persisted.
func (d *Draft) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	switch {
	case d.Name == "":
		return apperr.Validation("product name is required")
	case utf8.RuneCountInString(d.Name) > MaxNameLength:
		return apperr.Validation("product name should be at most %d characters", MaxNameLength)
	case d.Price.IsNegative():
		return apperr.Validation("product price must not be negative")
	case d.Stock < 0:
		return apperr.Validation("product stock must not be negative")
	case d.Stock > MaxStock:
		return apperr.Validation("product stock must not exceed %d", MaxStock)
	}
	return nil
}
