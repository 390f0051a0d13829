package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/cache"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/collection"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/events"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/storage/memory"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const serviceName = "storefront-api"

// stores bundles the store implementations selected by Storage.Driver.
type stores struct {
	products interface {
		product.Repository
		inventory.Store
	}
	coupons     coupon.Store
	collections collection.Repository
	orders      order.Store
	uow         order.UnitOfWork
	apikeys     auth.Repository
	// addKey registers an API key with the selected store.
	addKey func(ctx context.Context, k auth.APIKey) error
}

func openStores(ctx context.Context, cfg *Config, hs *health.Health) (*stores, func(), error) {
	lg := zctx.From(ctx)
	if cfg.Storage.Driver == StorageDriverMemory {
		lg.Warn("Using in-memory storage, data is lost on restart")
		db := memory.New()
		keys := db.APIKeys()
		return &stores{
			products:    db.Products(),
			coupons:     db.Coupons(),
			collections: db.Collections(),
			orders:      db.Orders(),
			uow:         db.UnitOfWork(),
			apikeys:     keys,
			addKey: func(_ context.Context, k auth.APIKey) error {
				keys.Add(k)
				return nil
			},
		}, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "run migrations")
	}
	hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

	keys := postgres.NewAPIKeyStore(pool)
	return &stores{
		products:    postgres.NewProductStore(pool),
		coupons:     postgres.NewCouponStore(pool),
		collections: postgres.NewCollectionStore(pool),
		orders:      postgres.NewOrderStore(pool),
		uow:         postgres.NewUnitOfWork(pool),
		apikeys:     keys,
		addKey:      keys.Upsert,
	}, pool.Close, nil
}

// openPublisher selects the order event sink. The returned stop function
// flushes pending events and must run after the HTTP server has drained.
func openPublisher(ctx context.Context, cfg *Config, hs *health.Health) (order.Publisher, func(), error) {
	lg := zctx.From(ctx)
	switch cfg.Events.Driver {
	case EventsDriverKafka:
		w := events.NewKafkaWriter(cfg.Events.Brokers, cfg.Events.Topic)
		p := events.NewProducer(w, serviceName, cfg.Events.Buffer, lg.Named("kafka"))
		// Closed explicitly so events produced while draining still go out.
		p.Start(context.WithoutCancel(ctx))
		hs.AddReadinessCheck("kafka", 5*time.Second, health.KafkaCheck(cfg.Events.Brokers))
		lg.Info("Publishing order events to kafka",
			zap.Strings("brokers", cfg.Events.Brokers),
			zap.String("topic", cfg.Events.Topic),
		)
		return p, func() {
			p.Close()
			p.WaitClosed()
		}, nil
	case EventsDriverAMQP:
		conn, ch, err := events.DialAMQP(ctx, cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect amqp")
		}
		hs.AddReadinessCheck("amqp", time.Second, health.AMQPCheck(conn))
		lg.Info("Publishing order events to rabbitmq", zap.String("exchange", cfg.Events.Exchange))
		return events.NewAMQPPublisher(ch, cfg.Events.Exchange, serviceName), func() {
			_ = ch.Close()
			_ = conn.Close()
		}, nil
	default:
		return events.LogPublisher{}, func() {}, nil
	}
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("events", cfg.Events.Driver),
	)
	ctx = zctx.Base(ctx, lg)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))

	st, closeStores, err := openStores(ctx, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeStores()

	if cfg.BootstrapAdminKey != "" {
		if err := st.addKey(ctx, auth.APIKey{
			ID:      uuid.NewString(),
			KeyHash: auth.HashKey([]byte(cfg.APIKeyPepper), cfg.BootstrapAdminKey),
			Name:    "bootstrap-admin",
			UserID:  "admin",
			Role:    auth.RoleAdmin,
		}); err != nil {
			return errors.Wrap(err, "register bootstrap admin key")
		}
		lg.Info("Registered bootstrap admin key")
	}

	pricing, err := cfg.Pricing.Policy()
	if err != nil {
		return errors.Wrap(err, "pricing")
	}
	orderOpts := []order.Option{
		order.WithPricing(pricing),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithTracerProvider(m.TracerProvider()),
	}

	var limiter httpmiddleware.Limiter
	if cfg.Redis.URL != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", time.Second, health.RedisCheck(rdb))

		orderOpts = append(orderOpts,
			order.WithCache(cache.NewOrderCache(rdb, cfg.Redis.CacheTTL)),
			order.WithIdempotency(cache.NewIdempotency(rdb, cfg.Redis.IdempotencyTTL)),
		)
		limiter = cache.NewRateLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window)
		lg.Info("Redis enabled for order cache, idempotency and rate limiting")
	} else {
		sw := httpmiddleware.NewSlidingWindow(cfg.RateLimit.Max, cfg.RateLimit.Window)
		sw.SweepEvery(ctx, cfg.RateLimit.Window)
		limiter = sw
	}

	pub, stopPublisher, err := openPublisher(ctx, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer stopPublisher()
	orderOpts = append(orderOpts, order.WithPublisher(pub))

	orderService, err := order.NewService(st.uow, st.orders, orderOpts...)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	h := handler.NewHandler(
		handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL},
		handler.Services{
			Products:    product.NewService(st.products),
			Collections: collection.NewService(st.collections),
			Coupons:     coupon.NewRegistry(st.coupons),
			Ledger:      inventory.NewLedger(st.products),
			Orders:      orderService,
		},
	)
	securityHandler := handler.NewSecurityHandler(st.apikeys, []byte(cfg.APIKeyPepper))
	api := h.Router(securityHandler,
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", api)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.RequestID(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{
					"Content-Type", "Authorization", "api_key",
					handler.HeaderIdempotencyKey, httpmiddleware.HeaderRequestID,
				},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID, "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(limiter, httpmiddleware.ClientIP),
			httpmiddleware.Instrument(serviceName, m),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
