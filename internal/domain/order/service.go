package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
)

// LineRequest is a requested quantity of a product.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// CreateOrderRequest holds the input for checkout.
type CreateOrderRequest struct {
	UserID          string
	Items           []LineRequest
	ShippingAddress string
	PhoneNumber     string
	PaymentMethod   PaymentMethod
	CouponCode      string
	TransactionID   string
	// IdempotencyKey deduplicates retried checkouts from the same user.
	IdempotencyKey string
}

// QuoteRequest holds a cart to price without placing it.
type QuoteRequest struct {
	Items      []LineRequest
	CouponCode string
}

// Quote is a priced cart. No stock is reserved and no coupon is consumed.
type Quote struct {
	Items      []Item
	CouponCode string
	Discount   int
	Breakdown
}

// Option configures a Service.
type Option func(*Service)

// WithPricing sets the tax and shipping policy.
func WithPricing(p Pricing) Option { return func(s *Service) { s.pricing = p } }

// WithCache enables the read-through order cache.
func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

// WithIdempotency enables checkout idempotency keys.
func WithIdempotency(i Idempotency) Option { return func(s *Service) { s.idem = i } }

// WithPublisher enables order events.
func WithPublisher(p Publisher) Option { return func(s *Service) { s.pub = p } }

// WithMeterProvider sets the meter provider for order metrics.
func WithMeterProvider(mp metric.MeterProvider) Option { return func(s *Service) { s.mp = mp } }

// WithTracerProvider sets the tracer provider for order spans.
func WithTracerProvider(tp trace.TracerProvider) Option { return func(s *Service) { s.tp = tp } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// Service orchestrates checkout and the order lifecycle.
type Service struct {
	uow     UnitOfWork
	orders  Store
	pricing Pricing
	cache   Cache
	idem    Idempotency
	pub     Publisher
	now     func() time.Time

	mp     metric.MeterProvider
	tp     trace.TracerProvider
	tracer trace.Tracer

	ordersCreated    metric.Int64Counter
	ordersCancelled  metric.Int64Counter
	couponsRedeemed  metric.Int64Counter
	stockRejections  metric.Int64Counter
	checkoutDuration metric.Float64Histogram
}

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

// NewService creates an order Service. uow scopes writes; orders serves
// plain reads outside a unit of work.
func NewService(uow UnitOfWork, orders Store, opts ...Option) (*Service, error) {
	s := &Service{
		uow:    uow,
		orders: orders,
		now:    time.Now,
		mp:     metricnoop.NewMeterProvider(),
		tp:     tracenoop.NewTracerProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	s.tracer = s.tp.Tracer(instrumentationName)

	meter := s.mp.Meter(instrumentationName)
	var err error
	if s.ordersCreated, err = meter.Int64Counter("storefront.orders.created",
		metric.WithDescription("Orders placed")); err != nil {
		return nil, errors.Wrap(err, "orders created counter")
	}
	if s.ordersCancelled, err = meter.Int64Counter("storefront.orders.cancelled",
		metric.WithDescription("Orders cancelled")); err != nil {
		return nil, errors.Wrap(err, "orders cancelled counter")
	}
	if s.couponsRedeemed, err = meter.Int64Counter("storefront.coupons.redeemed",
		metric.WithDescription("Coupons consumed by checkout")); err != nil {
		return nil, errors.Wrap(err, "coupons redeemed counter")
	}
	if s.stockRejections, err = meter.Int64Counter("storefront.stock.rejections",
		metric.WithDescription("Checkouts rejected for insufficient stock")); err != nil {
		return nil, errors.Wrap(err, "stock rejections counter")
	}
	if s.checkoutDuration, err = meter.Float64Histogram("storefront.checkout.duration",
		metric.WithDescription("Checkout latency"), metric.WithUnit("s")); err != nil {
		return nil, errors.Wrap(err, "checkout duration histogram")
	}
	return s, nil
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.KindOf(err).String())
	}
	span.End()
}

func validateLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return apperr.Validation("at least one item is required")
	}
	totals := make(map[string]int, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return apperr.Validation("product id is required")
		}
		if l.Quantity <= 0 {
			return apperr.Validation("quantity must be greater than 0 for product %s", l.ProductID)
		}
		if l.Quantity > inventory.MaxQuantity-totals[l.ProductID] {
			return apperr.Validation("total quantity for product %s must not exceed %d", l.ProductID, inventory.MaxQuantity)
		}
		totals[l.ProductID] += l.Quantity
	}
	return nil
}

func (r *CreateOrderRequest) validate() error {
	if r.UserID == "" {
		return apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	if err := validateLines(r.Items); err != nil {
		return err
	}
	r.ShippingAddress = strings.TrimSpace(r.ShippingAddress)
	if r.ShippingAddress == "" {
		return apperr.Validation("shipping address is required")
	}
	if !r.PaymentMethod.Valid() {
		return apperr.Validation("unsupported payment method %q", r.PaymentMethod)
	}
	return nil
}

// snapshot resolves every line against the current catalog and captures the
// unit price. Missing products fail the whole request.
func snapshot(ctx context.Context, store inventory.Store, lines []LineRequest) ([]Item, error) {
	seen := make(map[string]*product.Product, len(lines))
	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		p, ok := seen[l.ProductID]
		if !ok {
			var err error
			if p, err = store.FindByID(ctx, l.ProductID); err != nil {
				return nil, errors.Wrapf(err, "find product %s", l.ProductID)
			}
			seen[l.ProductID] = p
		}
		items = append(items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  l.Quantity,
			Price:     p.Price,
		})
	}
	return items, nil
}

// CreateOrder validates the cart, snapshots prices, redeems the coupon,
// reserves stock and persists the order in one unit of work. On any error
// none of those effects remain.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.startSpan(ctx, "order.CreateOrder",
		attribute.String("user.id", req.UserID),
		attribute.Int("order.lines", len(req.Items)),
	)
	start := s.now()
	defer func() {
		endSpan(span, rerr)
		s.checkoutDuration.Record(ctx, s.now().Sub(start).Seconds(),
			metric.WithAttributes(attribute.String("result", apperr.KindOf(rerr).String())))
	}()

	if err := req.validate(); err != nil {
		return nil, err
	}
	if s.idem != nil && req.IdempotencyKey != "" {
		existing, claimed, err := s.idem.Claim(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			return nil, errors.Wrap(err, "claim idempotency key")
		}
		if !claimed {
			if existing == "" {
				return nil, ErrCheckoutInProgress
			}
			return s.load(ctx, existing)
		}
		defer func() {
			if rerr == nil {
				return
			}
			if err := s.idem.Release(ctx, req.UserID, req.IdempotencyKey); err != nil {
				zctx.From(ctx).Warn("Release idempotency key", zap.Error(err))
			}
		}()
	}

	var created *Order
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		items, err := snapshot(ctx, st.Inventory, req.Items)
		if err != nil {
			return err
		}

		var discount int
		var code string
		if strings.TrimSpace(req.CouponCode) != "" {
			r, err := coupon.NewRegistry(st.Coupons).Redeem(ctx, req.CouponCode)
			if err != nil {
				return errors.Wrap(err, "redeem coupon")
			}
			discount, code = r.Discount, r.Code
		}

		o := &Order{
			ID:              uuid.NewString(),
			UserID:          req.UserID,
			Items:           items,
			ShippingAddress: req.ShippingAddress,
			PhoneNumber:     strings.TrimSpace(req.PhoneNumber),
			PaymentMethod:   req.PaymentMethod,
			CouponCode:      code,
			Status:          StatusOrdered,
			TransactionID:   req.TransactionID,
		}
		if err := inventory.NewLedger(st.Inventory, inventory.InUnitOfWork()).Reserve(ctx, o.lines()); err != nil {
			return err
		}
		s.pricing.Price(items, discount).applyTo(o)
		o.CreatedAt = s.now().UTC()
		o.UpdatedAt = o.CreatedAt
		if err := st.Orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		created = o
		return nil
	})
	if err != nil {
		var stockErr *inventory.InsufficientStockError
		if errors.As(err, &stockErr) {
			s.stockRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("product.id", stockErr.ProductID)))
		}
		return nil, err
	}

	s.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("payment.method", string(created.PaymentMethod))))
	if created.CouponCode != "" {
		s.couponsRedeemed.Add(ctx, 1)
	}
	zctx.From(ctx).Info("Order created",
		zap.String("order_id", created.ID),
		zap.String("user_id", created.UserID),
		zap.Stringer("total", created.TotalPrice),
	)
	if s.idem != nil && req.IdempotencyKey != "" {
		if err := s.idem.Complete(ctx, req.UserID, req.IdempotencyKey, created.ID); err != nil {
			zctx.From(ctx).Warn("Record idempotency key", zap.Error(err))
		}
	}
	s.remember(ctx, created)
	s.publish(ctx, EventCreated, created)
	return created, nil
}

// CancelOrder cancels an order on behalf of its owner or an admin. Only the
// CANCELLED status may be requested. Stock for every item is returned in the
// same unit of work as the status change, so it is released at most once.
func (s *Service) CancelOrder(ctx context.Context, who auth.Identity, orderID string, requested Status) (_ *Order, rerr error) {
	ctx, span := s.startSpan(ctx, "order.CancelOrder", attribute.String("order.id", orderID))
	defer func() { endSpan(span, rerr) }()

	if requested != StatusCancelled {
		return nil, apperr.Validation("only %s may be requested, got %q", StatusCancelled, requested)
	}
	return s.cancel(ctx, orderID, func(o *Order) error {
		if !who.CanAccess(o.UserID) {
			return apperr.New(apperr.KindForbidden, "order belongs to another user")
		}
		return nil
	})
}

func (s *Service) cancel(ctx context.Context, orderID string, authorize func(*Order) error) (*Order, error) {
	var cancelled *Order
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		o, err := st.Orders.FindByID(ctx, orderID)
		if err != nil {
			return errors.Wrapf(err, "find order %s", orderID)
		}
		if authorize != nil {
			if err := authorize(o); err != nil {
				return err
			}
		}
		if err := s.transition(ctx, st.Orders, o, StatusCancelled); err != nil {
			return err
		}
		if err := inventory.NewLedger(st.Inventory, inventory.InUnitOfWork()).Release(ctx, o.lines()); err != nil {
			return errors.Wrap(err, "release stock")
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.ordersCancelled.Add(ctx, 1)
	zctx.From(ctx).Info("Order cancelled", zap.String("order_id", cancelled.ID))
	s.refresh(ctx, cancelled)
	s.publish(ctx, EventCancelled, cancelled)
	return cancelled, nil
}

// transition applies to via the state machine and persists it with a
// compare-and-set on the previous status. Losing the race to a concurrent
// change is reported against the status that won.
func (s *Service) transition(ctx context.Context, store Store, o *Order, to Status) error {
	from := o.Status
	if err := o.SetStatus(to); err != nil {
		return err
	}
	at := s.now().UTC()
	ok, err := store.UpdateStatus(ctx, o.ID, from, to, at)
	if err != nil {
		return errors.Wrapf(err, "update order %s status", o.ID)
	}
	if !ok {
		current, err := store.FindByID(ctx, o.ID)
		if err != nil {
			return errors.Wrapf(err, "reload order %s", o.ID)
		}
		return &TransitionError{From: current.Status, To: to}
	}
	o.UpdatedAt = at
	return nil
}

// UpdateStatus is the admin status change. It never touches inventory,
// except that CANCELLED goes through cancellation and releases stock.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status Status) (_ *Order, rerr error) {
	ctx, span := s.startSpan(ctx, "order.UpdateStatus",
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(status)),
	)
	defer func() { endSpan(span, rerr) }()

	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	if status == StatusCancelled {
		return s.cancel(ctx, orderID, nil)
	}

	var updated *Order
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		o, err := st.Orders.FindByID(ctx, orderID)
		if err != nil {
			return errors.Wrapf(err, "find order %s", orderID)
		}
		if err := s.transition(ctx, st.Orders, o, status); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", updated.ID),
		zap.String("status", string(updated.Status)),
	)
	s.refresh(ctx, updated)
	s.publish(ctx, EventStatusChanged, updated)
	return updated, nil
}

// GetOrder returns an order visible to who.
func (s *Service) GetOrder(ctx context.Context, who auth.Identity, orderID string) (*Order, error) {
	o, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !who.CanAccess(o.UserID) {
		return nil, apperr.New(apperr.KindForbidden, "order belongs to another user")
	}
	return o, nil
}

func (s *Service) load(ctx context.Context, orderID string) (*Order, error) {
	if s.cache != nil {
		o, err := s.cache.Get(ctx, orderID)
		if err != nil {
			zctx.From(ctx).Warn("Order cache read", zap.String("order_id", orderID), zap.Error(err))
		} else if o != nil {
			return o, nil
		}
	}
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "find order %s", orderID)
	}
	s.remember(ctx, o)
	return o, nil
}

// ListMine returns the caller's orders.
func (s *Service) ListMine(ctx context.Context, who auth.Identity) ([]Order, error) {
	if who.UserID == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	out, err := s.orders.ListByUser(ctx, who.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return out, nil
}

// ListAll returns every order.
func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	out, err := s.orders.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return out, nil
}

// DeleteOrder removes an order. Stock held by the order is not returned.
func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	o, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return errors.Wrapf(err, "find order %s", orderID)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return errors.Wrapf(err, "delete order %s", orderID)
	}
	if !o.Status.IsTerminal() {
		zctx.From(ctx).Warn("Deleted order still held stock",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)),
		)
	}
	s.forget(ctx, orderID)
	s.publish(ctx, EventDeleted, o)
	return nil
}

// Quote prices a cart with the current catalog. A coupon is checked but not
// consumed.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if err := validateLines(req.Items); err != nil {
		return nil, err
	}
	var q Quote
	err := s.uow.Do(ctx, func(ctx context.Context, st Stores) error {
		items, err := snapshot(ctx, st.Inventory, req.Items)
		if err != nil {
			return err
		}
		q.Items = items
		if strings.TrimSpace(req.CouponCode) != "" {
			c, err := coupon.NewRegistry(st.Coupons).Lookup(ctx, req.CouponCode)
			if err != nil {
				return err
			}
			q.CouponCode, q.Discount = c.Code, c.Discount
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.Breakdown = s.pricing.Price(q.Items, q.Discount)
	return &q, nil
}

func (s *Service) remember(ctx context.Context, o *Order) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, o); err != nil {
		zctx.From(ctx).Warn("Order cache write", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// refresh writes a changed order through to the cache. When that fails the
// entry is dropped so reads fall back to the store.
func (s *Service) refresh(ctx context.Context, o *Order) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, o); err != nil {
		zctx.From(ctx).Warn("Order cache write", zap.String("order_id", o.ID), zap.Error(err))
		s.forget(ctx, o.ID)
	}
}

func (s *Service) forget(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, orderID); err != nil {
		zctx.From(ctx).Warn("Order cache invalidate", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, t EventType, o *Order) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, Event{Type: t, Order: o, At: s.now().UTC()}); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("type", string(t)),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}
