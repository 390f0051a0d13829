// Package memory keeps every store in process memory. It backs the
// single-binary mode and the domain tests.
package memory

import (
	"slices"
	"sync"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/collection"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// DB holds all entities behind one mutex. Each store method is a single
// critical section, which makes every conditional update atomic.
type DB struct {
	mu          sync.Mutex
	products    map[string]product.Product
	coupons     map[string]coupon.Coupon
	orders      map[string]order.Order
	collections map[string]collection.Collection
	apiKeys     map[string]auth.APIKey
}

// New returns an empty DB.
func New() *DB {
	return &DB{
		products:    make(map[string]product.Product),
		coupons:     make(map[string]coupon.Coupon),
		orders:      make(map[string]order.Order),
		collections: make(map[string]collection.Collection),
		apiKeys:     make(map[string]auth.APIKey),
	}
}

// Products returns the product store.
func (db *DB) Products() *ProductStore { return &ProductStore{db: db} }

// Coupons returns the coupon store.
func (db *DB) Coupons() *CouponStore { return &CouponStore{db: db} }

// Orders returns the order store.
func (db *DB) Orders() *OrderStore { return &OrderStore{db: db} }

// Collections returns the collection store.
func (db *DB) Collections() *CollectionStore { return &CollectionStore{db: db} }

// APIKeys returns the API key store.
func (db *DB) APIKeys() *APIKeyStore { return &APIKeyStore{db: db} }

func cloneProduct(p product.Product) *product.Product {
	p.Photos = slices.Clone(p.Photos)
	return &p
}

func cloneOrder(o order.Order) *order.Order {
	o.Items = slices.Clone(o.Items)
	return &o
}
