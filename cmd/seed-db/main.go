package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/collection"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/postgres"
)

type catalogFile struct {
	Collections []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"collections"`
	Products []struct {
		ID           string          `json:"id"`
		Name         string          `json:"name"`
		Description  string          `json:"description"`
		Brand        string          `json:"brand"`
		CollectionID string          `json:"collection_id"`
		Price        decimal.Decimal `json:"price"`
		Stock        int             `json:"stock"`
		Photos       []string        `json:"photos"`
	} `json:"products"`
	Coupons []struct {
		Code     string `json:"code"`
		Discount int    `json:"discount"`
	} `json:"coupons"`
}

type seedKey struct {
	raw    string
	name   string
	userID string
	role   auth.Role
}

func main() {
	var (
		databaseURL string
		catalogPath string
		userKey     string
		adminKey    string
		pepper      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogPath, "catalog", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&userKey, "user-key", "", "customer API key to seed (or SHOP_SEED_USER_KEY env)")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or SHOP_SEED_ADMIN_KEY env)")
	flag.StringVar(&pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if userKey == "" {
		userKey = os.Getenv("SHOP_SEED_USER_KEY")
	}
	if adminKey == "" {
		adminKey = os.Getenv("SHOP_SEED_ADMIN_KEY")
	}
	if pepper == "" {
		pepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}
	if pepper == "" && (userKey != "" || adminKey != "") {
		slog.Error("API key pepper is required to seed keys: set --api-key-pepper or SHOP_API_KEY_PEPPER")
		os.Exit(1)
	}

	var keys []seedKey
	if userKey != "" {
		keys = append(keys, seedKey{raw: userKey, name: "Seed customer key", userID: "demo-user", role: auth.RoleUser})
	}
	if adminKey != "" {
		keys = append(keys, seedKey{raw: adminKey, name: "Seed admin key", userID: "demo-admin", role: auth.RoleAdmin})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogPath, []byte(pepper), keys); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogPath string, pepper []byte, keys []seedKey) error {
	slog.Info("reading catalog", slog.String("path", catalogPath))

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogFile
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCollections(ctx, postgres.NewCollectionStore(pool), &catalog); err != nil {
		return errors.Wrap(err, "seed collections")
	}
	if err := seedProducts(ctx, postgres.NewProductStore(pool), &catalog); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, coupon.NewRegistry(postgres.NewCouponStore(pool)), &catalog); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAPIKeys(ctx, postgres.NewAPIKeyStore(pool), pepper, keys); err != nil {
		return errors.Wrap(err, "seed api keys")
	}

	return nil
}

func seedCollections(ctx context.Context, store collection.Repository, catalog *catalogFile) error {
	existing, err := store.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list collections")
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c.ID] = true
	}

	now := time.Now().UTC()
	for _, c := range catalog.Collections {
		if have[c.ID] {
			slog.Info("collection exists", slog.String("id", c.ID))
			continue
		}
		if err := store.Create(ctx, &collection.Collection{
			ID:        c.ID,
			Name:      c.Name,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return errors.Wrapf(err, "create collection %s", c.ID)
		}

		slog.Info("created collection", slog.String("id", c.ID), slog.String("name", c.Name))
	}

	return nil
}

// seedProducts inserts missing products. Existing products keep their stock,
// which only moves through the inventory ledger.
func seedProducts(ctx context.Context, store product.Repository, catalog *catalogFile) error {
	slog.Info("seeding products", slog.Int("count", len(catalog.Products)))

	now := time.Now().UTC()
	for _, p := range catalog.Products {
		_, err := store.GetByID(ctx, p.ID)
		switch {
		case err == nil:
			slog.Info("product exists", slog.String("id", p.ID))
			continue
		case apperr.KindOf(err) != apperr.KindNotFound:
			return errors.Wrapf(err, "get product %s", p.ID)
		}

		d := product.Draft{
			Name:         p.Name,
			Description:  p.Description,
			Brand:        p.Brand,
			CollectionID: p.CollectionID,
			Price:        p.Price,
			Stock:        p.Stock,
			Photos:       p.Photos,
		}
		if err := d.Validate(); err != nil {
			return errors.Wrapf(err, "product %s", p.ID)
		}
		if err := store.Create(ctx, &product.Product{
			ID:           p.ID,
			Name:         d.Name,
			Description:  d.Description,
			Brand:        d.Brand,
			CollectionID: d.CollectionID,
			Price:        d.Price,
			Stock:        d.Stock,
			Photos:       d.Photos,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			return errors.Wrapf(err, "create product %s", p.ID)
		}

		slog.Info("created product", slog.String("id", p.ID), slog.String("name", p.Name), slog.Int("stock", p.Stock))
	}

	return nil
}

func seedCoupons(ctx context.Context, reg *coupon.Registry, catalog *catalogFile) error {
	for _, c := range catalog.Coupons {
		created, err := reg.Create(ctx, c.Code, c.Discount)
		switch {
		case errors.Is(err, coupon.ErrDuplicateCode):
			slog.Info("coupon exists", slog.String("code", c.Code))
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", c.Code)
		default:
			slog.Info("created coupon", slog.String("code", created.Code), slog.Int("discount", created.Discount))
		}
	}

	return nil
}

func seedAPIKeys(ctx context.Context, store *postgres.APIKeyStore, pepper []byte, keys []seedKey) error {
	for _, k := range keys {
		if err := store.Upsert(ctx, auth.APIKey{
			ID:      uuid.NewString(),
			KeyHash: auth.HashKey(pepper, k.raw),
			Name:    k.name,
			UserID:  k.userID,
			Role:    k.role,
		}); err != nil {
			return errors.Wrapf(err, "upsert %s", k.name)
		}

		slog.Info("upserted API key", slog.String("name", k.name), slog.String("role", string(k.role)))
	}

	return nil
}
