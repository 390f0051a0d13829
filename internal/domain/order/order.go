// Package order implements the order lifecycle: checkout with all-or-nothing
// stock reservation and coupon redemption, and cancellation that releases
// stock exactly once.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/inventory"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "COD"
	PaymentCard   PaymentMethod = "CARD"
	PaymentUPI    PaymentMethod = "UPI"
	PaymentWallet PaymentMethod = "WALLET"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentCard, PaymentUPI, PaymentWallet:
		return true
	}
	return false
}

// Order is a placed order. Item prices are snapshots taken at checkout.
type Order struct {
	ID              string
	UserID          string
	Items           []Item
	ShippingAddress string
	PhoneNumber     string
	PaymentMethod   PaymentMethod
	CouponCode      string
	ItemsPrice      decimal.Decimal
	DiscountPrice   decimal.Decimal
	TaxPrice        decimal.Decimal
	ShippingPrice   decimal.Decimal
	TotalPrice      decimal.Decimal
	Status          Status
	TransactionID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item is one order line.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (o *Order) lines() []inventory.Line {
	out := make([]inventory.Line, len(o.Items))
	for i, it := range o.Items {
		out[i] = inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

// Store defines order persistence.
//
// FindByID returns an apperr not-found error for unknown ids. UpdateStatus
// is a compare-and-set: it only writes when the stored status equals from
// and reports whether it did.
type Store interface {
	Create(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context) ([]Order, error)
	Delete(ctx context.Context, id string) error
}

// Stores are the collaborators visible inside a unit of work.
type Stores struct {
	Inventory inventory.Store
	Coupons   coupon.Store
	Orders    Store
}

// UnitOfWork runs fn so that either all of its store writes take effect or
// none do. fn must only use the Stores it is given.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// Cache is a read-through order cache. Get returns nil, nil on a miss.
//
// Set keeps the snapshot with the newest UpdatedAt, so a reader holding an
// order loaded before a concurrent change cannot overwrite the newer entry.
// Invalidate drops the entry and ignores every Set until it would expire.
type Cache interface {
	Get(ctx context.Context, id string) (*Order, error)
	Set(ctx context.Context, o *Order) error
	Invalidate(ctx context.Context, id string) error
}

// Idempotency maps a client supplied checkout key to the order it produced.
//
// Claim either reserves key for the caller (claimed=true) or returns the
// order id already recorded for it. An empty orderID with claimed=false means
// another request holds the key.
type Idempotency interface {
	Claim(ctx context.Context, userID, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, userID, key, orderID string) error
	Release(ctx context.Context, userID, key string) error
}

// EventType names an order event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventCancelled     EventType = "order.cancelled"
	EventStatusChanged EventType = "order.status_changed"
	EventDeleted       EventType = "order.deleted"
)

// Event is published after a committed order change.
type Event struct {
	Type  EventType
	Order *Order
	At    time.Time
}

// Publisher delivers order events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// ErrCheckoutInProgress is returned when an idempotency key is held by a
// request that has not finished yet.
var ErrCheckoutInProgress = apperr.New(apperr.KindConflict, "a checkout with this idempotency key is in progress")
