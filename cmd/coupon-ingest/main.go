// Command coupon-ingest imports promo codes from partner feeds. A code is
// registered only when at least --quorum feeds list it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		input       string
		databaseURL string
		cfg         ingestConfig
	)

	flag.StringVar(&input, "input", "data/*.gz", "glob matching gzip-compressed coupon feeds")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&cfg.Quorum, "quorum", 2, "number of feeds that must list a code")
	flag.IntVar(&cfg.Discount, "discount", 10, "discount percent for lines without one")
	flag.UintVar(&cfg.Capacity, "bloom-capacity", 10_000_000, "expected codes per feed")
	flag.Float64Var(&cfg.FalsePositiveRate, "bloom-fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&cfg.Workers, "workers", 8, "concurrent database writers")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, input, databaseURL, cfg); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, input, databaseURL string, cfg ingestConfig) error {
	files, err := filepath.Glob(input)
	if err != nil {
		return errors.Wrapf(err, "match %s", input)
	}
	slices.Sort(files)
	cfg.Files = files
	if err := cfg.validate(); err != nil {
		return err
	}

	slog.Info("scanning feeds", slog.Int("files", len(files)), slog.Int("quorum", cfg.Quorum))

	codes, err := confirmedCodes(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "scan feeds")
	}

	slog.Info("confirmed codes", slog.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	stats, err := importCoupons(ctx, coupon.NewRegistry(postgres.NewCouponStore(pool)), codes, cfg.Workers)
	if err != nil {
		return errors.Wrap(err, "import coupons")
	}

	slog.Info("import finished",
		slog.Int64("created", stats.Created),
		slog.Int64("existing", stats.Existing),
	)
	return nil
}
