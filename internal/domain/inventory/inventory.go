// Package inventory owns per-product stock counters. Every change goes through
// a single conditional read-modify-write at the store so concurrent deltas on
// the same product can neither be lost nor push stock below zero.
package inventory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/product"
)

// Store is the product store contract the ledger depends on.
//
// ApplyStockDelta adds delta to the product's stock in one atomic step, only
// if the resulting stock is non-negative. It
// returns *product.NotFoundError for unknown products and
// *InsufficientStockError when the floor would be crossed.
type Store interface {
	FindByID(ctx context.Context, id string) (*product.Product, error)
	ApplyStockDelta(ctx context.Context, id string, delta int) (*product.Product, error)
}

// InsufficientStockError reports a reservation that would drive stock negative.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Kind implements apperr.Kinded.
func (e *InsufficientStockError) Kind() apperr.Kind { return apperr.KindInsufficientStock }

// MaxQuantity bounds a single line, a merged reservation and an admin delta.
const MaxQuantity = product.MaxStock

// Line is a quantity of one product.
type Line struct {
	ProductID string
	Quantity  int
}

// Ledger applies stock deltas through a Store.
type Ledger struct {
	store Store
	// inTx means an enclosing unit of work rolls back a failed Reserve.
	inTx bool
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// InUnitOfWork marks the store as scoped to a unit of work. A failed Reserve
// then leaves its partial reservation for the unit of work to roll back
// instead of returning it through the store.
func InUnitOfWork() LedgerOption { return func(l *Ledger) { l.inTx = true } }

// NewLedger creates a Ledger on top of store.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{store: store}
	for _, o := range opts {
		o(l)
	}
	return l
}

// ApplyDelta adds a signed quantity to a product's stock and returns the
// updated product.
func (l *Ledger) ApplyDelta(ctx context.Context, productID string, delta int) (*product.Product, error) {
	if productID == "" {
		return nil, apperr.Validation("product id is required")
	}
	if delta == 0 {
		return nil, apperr.Validation("stock delta must not be zero")
	}
	if delta > MaxQuantity || delta < -MaxQuantity {
		return nil, apperr.Validation("stock delta must be between -%d and %d", MaxQuantity, MaxQuantity)
	}
	p, err := l.store.ApplyStockDelta(ctx, productID, delta)
	if err != nil {
		return nil, errors.Wrapf(err, "apply stock delta to %s", productID)
	}
	return p, nil
}

// Reserve decrements stock for every line or for none of them. Under
// InUnitOfWork the "none" half is left to the unit of work. Lines for the
// same product are merged and products are visited in id order so concurrent
// reservations acquire row locks in a consistent order.
func (l *Ledger) Reserve(ctx context.Context, lines []Line) error {
	merged, err := aggregate(lines)
	if err != nil {
		return err
	}
	for i, line := range merged {
		if _, err := l.store.ApplyStockDelta(ctx, line.ProductID, -line.Quantity); err != nil {
			if !l.inTx {
				l.compensate(ctx, merged[:i])
			}
			return errors.Wrapf(err, "reserve %d of %s", line.Quantity, line.ProductID)
		}
	}
	return nil
}

// Release returns stock for every line.
func (l *Ledger) Release(ctx context.Context, lines []Line) error {
	merged, err := aggregate(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		if _, err := l.store.ApplyStockDelta(ctx, line.ProductID, line.Quantity); err != nil {
			return errors.Wrapf(err, "release %d of %s", line.Quantity, line.ProductID)
		}
	}
	return nil
}

// compensate undoes reservations already applied by a failed Reserve. A
// failure here is logged.
func (l *Ledger) compensate(ctx context.Context, applied []Line) {
	for _, line := range applied {
		if _, err := l.store.ApplyStockDelta(ctx, line.ProductID, line.Quantity); err != nil {
			zctx.From(ctx).Error("Release reserved stock",
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
		}
	}
}

func aggregate(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, apperr.Validation("at least one item is required")
	}
	idx := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, apperr.Validation("product id is required")
		}
		if line.Quantity <= 0 {
			return nil, apperr.Validation("quantity must be greater than 0 for product %s", line.ProductID)
		}
		if line.Quantity > MaxQuantity {
			return nil, apperr.Validation("quantity for product %s must not exceed %d", line.ProductID, MaxQuantity)
		}
		if i, ok := idx[line.ProductID]; ok {
			if out[i].Quantity > MaxQuantity-line.Quantity {
				return nil, apperr.Validation("total quantity for product %s must not exceed %d", line.ProductID, MaxQuantity)
			}
			out[i].Quantity += line.Quantity
			continue
		}
		idx[line.ProductID] = len(out)
		out = append(out, line)
	}
	slices.SortFunc(out, func(a, b Line) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return out, nil
}
