package order_test

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/memory"
)

// --- Fakes ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []order.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e order.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []order.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]order.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// mapCache keeps the newest snapshot per order and honours tombstones.
type mapCache struct {
	mu    sync.Mutex
	data  map[string]order.Order
	tombs map[string]bool
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]order.Order), tombs: make(map[string]bool)}
}

func (c *mapCache) Get(_ context.Context, id string) (*order.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.data[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (c *mapCache) Set(_ context.Context, o *order.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tombs[o.ID] {
		return nil
	}
	if cur, ok := c.data[o.ID]; ok && cur.UpdatedAt.After(o.UpdatedAt) {
		return nil
	}
	c.data[o.ID] = *o
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
	c.tombs[id] = true
	return nil
}

// evict drops an entry the way a TTL would.
func (c *mapCache) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
}

// interleavedReads runs hook once, after a read has loaded its snapshot and
// before it is returned.
type interleavedReads struct {
	order.Store
	once sync.Once
	hook func()
}

func (r *interleavedReads) FindByID(ctx context.Context, id string) (*order.Order, error) {
	o, err := r.Store.FindByID(ctx, id)
	r.once.Do(r.hook)
	return o, err
}

// recordingInventory logs every stock delta it forwards.
type recordingInventory struct {
	inventory.Store
	mu     sync.Mutex
	deltas []int
}

func (r *recordingInventory) ApplyStockDelta(ctx context.Context, id string, delta int) (*product.Product, error) {
	r.mu.Lock()
	r.deltas = append(r.deltas, delta)
	r.mu.Unlock()
	return r.Store.ApplyStockDelta(ctx, id, delta)
}

type recordingInventoryUoW struct {
	inner order.UnitOfWork
	inv   *recordingInventory
}

func (u recordingInventoryUoW) Do(ctx context.Context, fn func(context.Context, order.Stores) error) error {
	return u.inner.Do(ctx, func(ctx context.Context, s order.Stores) error {
		u.inv.Store = s.Inventory
		s.Inventory = u.inv
		return fn(ctx, s)
	})
}

type mapIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *mapIdempotency) Claim(_ context.Context, userID, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := userID + "/" + key
	if v, ok := m.keys[k]; ok {
		return v, false, nil
	}
	m.keys[k] = ""
	return "", true, nil
}

func (m *mapIdempotency) Complete(_ context.Context, userID, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[userID+"/"+key] = orderID
	return nil
}

func (m *mapIdempotency) Release(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, userID+"/"+key)
	return nil
}

// failingCreateUoW makes order persistence fail after every earlier step of
// checkout has succeeded.
type failingCreateUoW struct {
	inner order.UnitOfWork
}

type failingOrders struct {
	order.Store
}

func (failingOrders) Create(context.Context, *order.Order) error {
	return errors.New("disk full")
}

func (u failingCreateUoW) Do(ctx context.Context, fn func(context.Context, order.Stores) error) error {
	return u.inner.Do(ctx, func(ctx context.Context, s order.Stores) error {
		s.Orders = failingOrders{Store: s.Orders}
		return fn(ctx, s)
	})
}

// --- Helpers ---

var (
	alice = auth.Identity{UserID: "alice", Role: auth.RoleUser}
	bob   = auth.Identity{UserID: "bob", Role: auth.RoleUser}
	admin = auth.Identity{UserID: "root", Role: auth.RoleAdmin}
)

type fixture struct {
	db  *memory.DB
	svc *order.Service
	pub *recordingPublisher
}

func testPricing() order.Pricing {
	return order.Pricing{
		TaxPercent:       decimal.NewFromInt(5),
		ShippingPrice:    decimal.RequireFromString("4.99"),
		FreeShippingOver: decimal.NewFromInt(150),
	}
}

func newFixture(t *testing.T, opts ...order.Option) *fixture {
	t.Helper()
	ctx := context.Background()
	db := memory.New()

	for _, p := range []product.Product{
		{ID: "p1", Name: "Mug", Price: decimal.NewFromInt(10), Stock: 5},
		{ID: "p2", Name: "Poster", Price: decimal.RequireFromString("25.50"), Stock: 1},
		{ID: "p3", Name: "Hoodie", Price: decimal.NewFromInt(50), Stock: 10},
	} {
		require.NoError(t, db.Products().Create(ctx, &p))
	}
	require.NoError(t, db.Coupons().Create(ctx, &coupon.Coupon{
		ID: "c1", Code: "SAVE10", Discount: 10, Active: true,
	}))

	pub := &recordingPublisher{}
	opts = append([]order.Option{order.WithPricing(testPricing()), order.WithPublisher(pub)}, opts...)
	svc, err := order.NewService(db.UnitOfWork(), db.Orders(), opts...)
	require.NoError(t, err)
	return &fixture{db: db, svc: svc, pub: pub}
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.db.Products().GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) couponActive(t *testing.T) bool {
	t.Helper()
	c, err := f.db.Coupons().FindByID(context.Background(), "c1")
	require.NoError(t, err)
	return c.Active
}

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	all, err := f.db.Orders().List(context.Background())
	require.NoError(t, err)
	return len(all)
}

func checkout(user, code string, lines ...order.LineRequest) order.CreateOrderRequest {
	return order.CreateOrderRequest{
		UserID:          user,
		Items:           lines,
		ShippingAddress: "221B Baker Street",
		PhoneNumber:     "5550100",
		PaymentMethod:   order.PaymentCOD,
		CouponCode:      code,
	}
}

func line(id string, qty int) order.LineRequest {
	return order.LineRequest{ProductID: id, Quantity: qty}
}

func (f *fixture) place(t *testing.T, req order.CreateOrderRequest) *order.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	return o
}

// --- CreateOrder ---

func TestCreateOrder_ReservesStockAndPrices(t *testing.T) {
	f := newFixture(t)

	o := f.place(t, checkout("alice", "", line("p1", 2)))

	assert.Equal(t, 3, f.stock(t, "p1"))
	assert.Equal(t, order.StatusOrdered, o.Status)
	assert.Equal(t, "alice", o.UserID)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "Mug", o.Items[0].Name)
	assert.True(t, decimal.NewFromInt(10).Equal(o.Items[0].Price))
	assert.True(t, decimal.NewFromInt(20).Equal(o.ItemsPrice))
	assert.True(t, decimal.NewFromInt(1).Equal(o.TaxPrice))
	assert.True(t, decimal.RequireFromString("4.99").Equal(o.ShippingPrice))
	assert.True(t, decimal.RequireFromString("25.99").Equal(o.TotalPrice))
	assert.False(t, o.CreatedAt.IsZero())

	stored, err := f.db.Orders().FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.TotalPrice.String(), stored.TotalPrice.String())
	assert.Equal(t, []order.EventType{order.EventCreated}, f.pub.types())
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*order.CreateOrderRequest)
		wantKind apperr.Kind
	}{
		{name: "no items", mutate: func(r *order.CreateOrderRequest) { r.Items = nil }, wantKind: apperr.KindValidation},
		{name: "zero quantity", mutate: func(r *order.CreateOrderRequest) { r.Items[0].Quantity = 0 }, wantKind: apperr.KindValidation},
		{name: "negative quantity", mutate: func(r *order.CreateOrderRequest) { r.Items[0].Quantity = -1 }, wantKind: apperr.KindValidation},
		{name: "blank product", mutate: func(r *order.CreateOrderRequest) { r.Items[0].ProductID = " " }, wantKind: apperr.KindValidation},
		{name: "no address", mutate: func(r *order.CreateOrderRequest) { r.ShippingAddress = "" }, wantKind: apperr.KindValidation},
		{name: "bad payment", mutate: func(r *order.CreateOrderRequest) { r.PaymentMethod = "BARTER" }, wantKind: apperr.KindValidation},
		{name: "anonymous", mutate: func(r *order.CreateOrderRequest) { r.UserID = "" }, wantKind: apperr.KindUnauthorized},
		{name: "quantity above ceiling", mutate: func(r *order.CreateOrderRequest) {
			r.Items[0].Quantity = inventory.MaxQuantity + 1
		}, wantKind: apperr.KindValidation},
		{name: "duplicate lines overflow", mutate: func(r *order.CreateOrderRequest) {
			r.Items = []order.LineRequest{line("p1", math.MaxInt), line("p1", math.MaxInt)}
		}, wantKind: apperr.KindValidation},
		{name: "duplicate lines above ceiling", mutate: func(r *order.CreateOrderRequest) {
			r.Items = []order.LineRequest{line("p1", inventory.MaxQuantity), line("p1", 1)}
		}, wantKind: apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := checkout("alice", "", line("p1", 1))
			tt.mutate(&req)

			_, err := f.svc.CreateOrder(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Equal(t, 5, f.stock(t, "p1"))
			assert.Zero(t, f.orderCount(t))
		})
	}
}

func TestCreateOrder_FailureLeavesNoTrace(t *testing.T) {
	tests := []struct {
		name     string
		lines    []order.LineRequest
		wantKind apperr.Kind
	}{
		{
			name:     "unknown product",
			lines:    []order.LineRequest{line("p1", 2), line("nope", 1)},
			wantKind: apperr.KindNotFound,
		},
		{
			name:     "insufficient stock on a later line",
			lines:    []order.LineRequest{line("p1", 2), line("p2", 2)},
			wantKind: apperr.KindInsufficientStock,
		},
		{
			name:     "duplicate lines exceed stock together",
			lines:    []order.LineRequest{line("p1", 3), line("p1", 3)},
			wantKind: apperr.KindInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.CreateOrder(context.Background(), checkout("alice", "SAVE10", tt.lines...))
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))

			assert.Equal(t, 5, f.stock(t, "p1"))
			assert.Equal(t, 1, f.stock(t, "p2"))
			assert.True(t, f.couponActive(t), "coupon must not stay redeemed")
			assert.Zero(t, f.orderCount(t))
			assert.Empty(t, f.pub.types())
		})
	}
}

func TestCreateOrder_PersistenceFailureRestoresCouponAndStock(t *testing.T) {
	db := memory.New()
	ctx := context.Background()
	require.NoError(t, db.Products().Create(ctx, &product.Product{ID: "p1", Name: "Mug", Price: decimal.NewFromInt(10), Stock: 5}))
	require.NoError(t, db.Coupons().Create(ctx, &coupon.Coupon{ID: "c1", Code: "SAVE10", Discount: 10, Active: true}))
	svc, err := order.NewService(failingCreateUoW{inner: db.UnitOfWork()}, db.Orders())
	require.NoError(t, err)

	_, err = svc.CreateOrder(ctx, checkout("alice", "SAVE10", line("p1", 2)))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	p, err := db.Products().GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Stock)
	c, err := db.Coupons().FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.Active)
}

func TestCreateOrder_DuplicateLinesNeverRaiseStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateOrder(context.Background(),
		checkout("alice", "", line("p1", math.MaxInt), line("p1", math.MaxInt)))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 5, f.stock(t, "p1"))
	assert.Zero(t, f.orderCount(t))
}

func TestCreateOrder_ShortStockIsRolledBackOnce(t *testing.T) {
	f := newFixture(t)
	inv := &recordingInventory{}
	svc, err := order.NewService(recordingInventoryUoW{inner: f.db.UnitOfWork(), inv: inv}, f.db.Orders(),
		order.WithPricing(testPricing()))
	require.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), checkout("alice", "", line("p1", 2), line("p2", 3)))
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	// Only the reservation attempts reach the store; the unit of work undoes p1.
	assert.Equal(t, []int{-2, -3}, inv.deltas)
	assert.Equal(t, 5, f.stock(t, "p1"))
	assert.Equal(t, 1, f.stock(t, "p2"))
}

func TestCreateOrder_CouponIsSingleUse(t *testing.T) {
	f := newFixture(t)

	o := f.place(t, checkout("alice", "save10", line("p3", 2)))

	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.True(t, decimal.NewFromInt(100).Equal(o.ItemsPrice))
	assert.True(t, decimal.NewFromInt(10).Equal(o.DiscountPrice))
	net := o.ItemsPrice.Sub(o.DiscountPrice)
	assert.True(t, decimal.NewFromInt(90).Equal(net))
	assert.False(t, f.couponActive(t))

	_, err := f.svc.CreateOrder(context.Background(), checkout("bob", "SAVE10", line("p3", 1)))
	var invalid *coupon.InvalidCouponError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 8, f.stock(t, "p3"))
}

func TestCreateOrder_ConcurrentCheckoutsRedeemCouponOnce(t *testing.T) {
	f := newFixture(t)
	const buyers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		placed  []*order.Order
		invalid int
	)
	for i := range buyers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := f.svc.CreateOrder(context.Background(), checkout(fmt.Sprintf("user-%d", i), "SAVE10", line("p3", 1)))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if apperr.Is(err, apperr.KindInvalidCoupon) {
					invalid++
				}
				return
			}
			placed = append(placed, o)
		}(i)
	}
	wg.Wait()

	require.Len(t, placed, 1)
	assert.Equal(t, buyers-1, invalid)
	assert.True(t, decimal.NewFromInt(5).Equal(placed[0].DiscountPrice))
	assert.Equal(t, 9, f.stock(t, "p3"))
}

func TestCreateOrder_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := range 12 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CreateOrder(context.Background(), checkout(fmt.Sprintf("user-%d", i), "", line("p1", 1), line("p3", 1)))
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, success)
	assert.Equal(t, 0, f.stock(t, "p1"))
	assert.Equal(t, 5, f.stock(t, "p3"))
	assert.Equal(t, 5, f.orderCount(t))
}

func TestCreateOrder_PriceIsSnapshotted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, checkout("alice", "", line("p1", 1)))

	p, err := f.db.Products().GetByID(ctx, "p1")
	require.NoError(t, err)
	p.Price = decimal.NewFromInt(99)
	require.NoError(t, f.db.Products().Update(ctx, p))

	got, err := f.svc.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(got.Items[0].Price))
	assert.True(t, o.TotalPrice.Equal(got.TotalPrice))
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	f := newFixture(t, order.WithIdempotency(&mapIdempotency{keys: make(map[string]string)}))
	req := checkout("alice", "", line("p1", 2))
	req.IdempotencyKey = "k-1"

	first := f.place(t, req)
	second := f.place(t, req)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, f.stock(t, "p1"))
	assert.Equal(t, 1, f.orderCount(t))

	req.UserID = "bob"
	third := f.place(t, req)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCreateOrder_IdempotencyKeyReleasedOnFailure(t *testing.T) {
	idem := &mapIdempotency{keys: make(map[string]string)}
	f := newFixture(t, order.WithIdempotency(idem))
	req := checkout("alice", "", line("p2", 2))
	req.IdempotencyKey = "k-1"

	_, err := f.svc.CreateOrder(context.Background(), req)
	require.Error(t, err)
	assert.Empty(t, idem.keys)

	req.Items = []order.LineRequest{line("p2", 1)}
	f.place(t, req)
}

func TestCreateOrder_IdempotencyKeyInFlight(t *testing.T) {
	idem := &mapIdempotency{keys: map[string]string{"alice/k-1": ""}}
	f := newFixture(t, order.WithIdempotency(idem))
	req := checkout("alice", "", line("p1", 1))
	req.IdempotencyKey = "k-1"

	_, err := f.svc.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, order.ErrCheckoutInProgress)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestCreateOrder_PublisherFailureDoesNotFailCheckout(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	o := f.place(t, checkout("alice", "", line("p1", 1)))
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, 4, f.stock(t, "p1"))
}

// --- CancelOrder ---

func TestCancelOrder_ReleasesStock(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, checkout("alice", "", line("p1", 2)))
	require.Equal(t, 3, f.stock(t, "p1"))

	got, err := f.svc.CancelOrder(context.Background(), alice, o.ID, order.StatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, 5, f.stock(t, "p1"))
	assert.Equal(t, []order.EventType{order.EventCreated, order.EventCancelled}, f.pub.types())
}

func TestCancelOrder_Twice(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, checkout("alice", "", line("p1", 2)))

	_, err := f.svc.CancelOrder(context.Background(), alice, o.ID, order.StatusCancelled)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), alice, o.ID, order.StatusCancelled)
	var te *order.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, order.StatusCancelled, te.From)
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestCancelOrder_ConcurrentReleasesOnce(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, checkout("alice", "", line("p1", 2), line("p3", 4)))

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ok, refused int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CancelOrder(context.Background(), alice, o.ID, order.StatusCancelled)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.Is(err, apperr.KindInvalidTransition):
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 9, refused)
	assert.Equal(t, 5, f.stock(t, "p1"))
	assert.Equal(t, 10, f.stock(t, "p3"))
}

func TestCancelOrder_Delivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, checkout("alice", "", line("p1", 2)))
	_, err := f.svc.UpdateStatus(ctx, o.ID, order.StatusDelivered)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, alice, o.ID, order.StatusCancelled)
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidTransition, apperr.KindOf(err))
	assert.Equal(t, 3, f.stock(t, "p1"))

	got, err := f.svc.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, got.Status)
}

func TestCancelOrder_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		who       auth.Identity
		id        func(o *order.Order) string
		requested order.Status
		wantKind  apperr.Kind
	}{
		{
			name:      "requested status must be CANCELLED",
			who:       alice,
			id:        func(o *order.Order) string { return o.ID },
			requested: order.StatusShipped,
			wantKind:  apperr.KindValidation,
		},
		{
			name:      "unknown order",
			who:       alice,
			id:        func(*order.Order) string { return "missing" },
			requested: order.StatusCancelled,
			wantKind:  apperr.KindNotFound,
		},
		{
			name:      "another user's order",
			who:       bob,
			id:        func(o *order.Order) string { return o.ID },
			requested: order.StatusCancelled,
			wantKind:  apperr.KindForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.place(t, checkout("alice", "", line("p1", 2)))

			_, err := f.svc.CancelOrder(context.Background(), tt.who, tt.id(o), tt.requested)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.Equal(t, 3, f.stock(t, "p1"))
		})
	}
}

func TestCancelOrder_AdminMayCancelAnyOrder(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, checkout("alice", "", line("p1", 2)))

	_, err := f.svc.CancelOrder(context.Background(), admin, o.ID, order.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestCancelOrder_DoesNotReactivateCoupon(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, checkout("alice", "SAVE10", line("p1", 1)))

	_, err := f.svc.CancelOrder(context.Background(), alice, o.ID, order.StatusCancelled)
	require.NoError(t, err)
	assert.False(t, f.couponActive(t))
}

// --- UpdateStatus ---

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name      string
		path      []order.Status
		wantKind  apperr.Kind
		wantErr   bool
		wantStock int
	}{
		{name: "processing", path: []order.Status{order.StatusProcessing}, wantStock: 3},
		{name: "full lifecycle", path: []order.Status{order.StatusProcessing, order.StatusShipped, order.StatusDelivered}, wantStock: 3},
		{name: "backwards", path: []order.Status{order.StatusShipped, order.StatusProcessing}, wantErr: true, wantKind: apperr.KindInvalidTransition, wantStock: 3},
		{name: "after delivery", path: []order.Status{order.StatusDelivered, order.StatusShipped}, wantErr: true, wantKind: apperr.KindInvalidTransition, wantStock: 3},
		{name: "same status", path: []order.Status{order.StatusOrdered}, wantErr: true, wantKind: apperr.KindInvalidTransition, wantStock: 3},
		{name: "unknown status", path: []order.Status{"LOST"}, wantErr: true, wantKind: apperr.KindValidation, wantStock: 3},
		{name: "cancel through admin releases stock", path: []order.Status{order.StatusShipped, order.StatusCancelled}, wantStock: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			o := f.place(t, checkout("alice", "", line("p1", 2)))

			var err error
			for _, st := range tt.path {
				if _, err = f.svc.UpdateStatus(context.Background(), o.ID, st); err != nil {
					break
				}
			}
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			} else {
				require.NoError(t, err)
				got, err := f.svc.GetOrder(context.Background(), admin, o.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.path[len(tt.path)-1], got.Status)
			}
			assert.Equal(t, tt.wantStock, f.stock(t, "p1"))
		})
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateStatus(context.Background(), "missing", order.StatusShipped)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

// --- Reads, delete, quote ---

func TestGetOrder_Access(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, checkout("alice", "", line("p1", 1)))

	_, err := f.svc.GetOrder(context.Background(), alice, o.ID)
	require.NoError(t, err)
	_, err = f.svc.GetOrder(context.Background(), admin, o.ID)
	require.NoError(t, err)
	_, err = f.svc.GetOrder(context.Background(), bob, o.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.svc.GetOrder(context.Background(), alice, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGetOrder_CacheInvalidatedOnCancel(t *testing.T) {
	cache := newMapCache()
	f := newFixture(t, order.WithCache(cache))
	o := f.place(t, checkout("alice", "", line("p1", 1)))

	cached, err := cache.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.NotNil(t, cached)

	_, err = f.svc.CancelOrder(context.Background(), alice, o.ID, order.StatusCancelled)
	require.NoError(t, err)

	got, err := f.svc.GetOrder(context.Background(), alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
}

func TestGetOrder_StaleReadDoesNotOutliveCancel(t *testing.T) {
	f := newFixture(t)
	cache := newMapCache()

	var svc *order.Service
	var cancelErr error
	reads := &interleavedReads{Store: f.db.Orders()}
	svc, err := order.NewService(f.db.UnitOfWork(), reads,
		order.WithPricing(testPricing()),
		order.WithCache(cache),
	)
	require.NoError(t, err)

	o, err := svc.CreateOrder(context.Background(), checkout("alice", "", line("p1", 1)))
	require.NoError(t, err)
	cache.evict(o.ID)

	// The cancel commits between the read and its cache write.
	reads.hook = func() {
		_, cancelErr = svc.CancelOrder(context.Background(), alice, o.ID, order.StatusCancelled)
	}
	stale, err := svc.GetOrder(context.Background(), alice, o.ID)
	require.NoError(t, err)
	require.NoError(t, cancelErr)
	assert.Equal(t, order.StatusOrdered, stale.Status)

	got, err := svc.GetOrder(context.Background(), alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
}

func TestGetOrder_DeletedOrderIsNotRecached(t *testing.T) {
	cache := newMapCache()
	f := newFixture(t, order.WithCache(cache))
	o := f.place(t, checkout("alice", "", line("p1", 1)))

	require.NoError(t, f.svc.DeleteOrder(context.Background(), o.ID))
	require.NoError(t, cache.Set(context.Background(), o))

	_, err := f.svc.GetOrder(context.Background(), alice, o.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	f.place(t, checkout("alice", "", line("p1", 1)))
	f.place(t, checkout("alice", "", line("p3", 1)))
	f.place(t, checkout("bob", "", line("p3", 1)))

	mine, err := f.svc.ListMine(context.Background(), alice)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	for _, o := range mine {
		assert.Equal(t, "alice", o.UserID)
	}

	all, err := f.svc.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.svc.ListMine(context.Background(), auth.Identity{})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestDeleteOrder_KeepsReservedStock(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, checkout("alice", "", line("p1", 2)))

	require.NoError(t, f.svc.DeleteOrder(context.Background(), o.ID))

	assert.Equal(t, 3, f.stock(t, "p1"))
	_, err := f.svc.GetOrder(context.Background(), admin, o.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(f.svc.DeleteOrder(context.Background(), o.ID)))
	assert.Equal(t, []order.EventType{order.EventCreated, order.EventDeleted}, f.pub.types())
}

func TestQuote(t *testing.T) {
	f := newFixture(t)

	q, err := f.svc.Quote(context.Background(), order.QuoteRequest{
		Items:      []order.LineRequest{line("p3", 2)},
		CouponCode: "SAVE10",
	})
	require.NoError(t, err)

	assert.Equal(t, "SAVE10", q.CouponCode)
	assert.Equal(t, 10, q.Discount)
	assert.True(t, decimal.NewFromInt(100).Equal(q.ItemsPrice))
	assert.True(t, decimal.NewFromInt(10).Equal(q.DiscountPrice))
	assert.True(t, decimal.RequireFromString("99.49").Equal(q.TotalPrice))
	assert.True(t, f.couponActive(t), "quote must not consume the coupon")
	assert.Equal(t, 10, f.stock(t, "p3"))
	assert.Zero(t, f.orderCount(t))
}

func TestQuote_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Quote(ctx, order.QuoteRequest{})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.Quote(ctx, order.QuoteRequest{Items: []order.LineRequest{line("nope", 1)}})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.Quote(ctx, order.QuoteRequest{Items: []order.LineRequest{line("p1", 1)}, CouponCode: "NOPE"})
	assert.Equal(t, apperr.KindInvalidCoupon, apperr.KindOf(err))
}
