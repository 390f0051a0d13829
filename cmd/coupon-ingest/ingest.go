package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	// maxFeeds is bounded by the per-code file bitmask.
	maxFeeds      = 64
	progressEvery = 1_000_000
)

type ingestConfig struct {
	Files             []string
	Quorum            int
	Discount          int
	Capacity          uint
	FalsePositiveRate float64
	Workers           int
}

func (c *ingestConfig) validate() error {
	switch {
	case len(c.Files) == 0:
		return errors.New("no feed files matched")
	case len(c.Files) > maxFeeds:
		return errors.Errorf("at most %d feeds are supported, got %d", maxFeeds, len(c.Files))
	case c.Quorum < 1 || c.Quorum > len(c.Files):
		return errors.Errorf("quorum must be between 1 and %d", len(c.Files))
	case c.Discount < 0 || c.Discount > 100:
		return errors.New("discount must be between 0 and 100")
	case c.Capacity == 0:
		return errors.New("bloom capacity must be positive")
	case c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1:
		return errors.New("bloom false positive rate must be in (0, 1)")
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	return nil
}

// feedLine is one "CODE[,PERCENT]" entry of a feed.
type feedLine struct {
	Code     string
	Discount int
}

// parseLine reads a feed line. Blank lines, comments and codes the registry
// would reject are skipped.
func parseLine(line string, defaultDiscount int) (feedLine, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return feedLine{}, false
	}
	code, pct, hasPct := strings.Cut(line, ",")
	l := feedLine{Code: coupon.NormalizeCode(code), Discount: defaultDiscount}
	if !validCode(l.Code) {
		return feedLine{}, false
	}
	if hasPct {
		n, err := strconv.Atoi(strings.TrimSpace(pct))
		if err != nil || n < 0 || n > 100 {
			return feedLine{}, false
		}
		l.Discount = n
	}
	return l, true
}

func validCode(code string) bool {
	if code == "" || len(code) > coupon.MaxCodeLength {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// confirmedCodes returns every code listed by at least cfg.Quorum feeds,
// mapped to its discount. The first feed (in file order) listing a code
// decides its discount.
//
// Pass 1 builds a bloom filter per feed. Pass 2 re-reads each feed and keeps
// only codes the other filters say may reach the quorum, so memory is
// proportional to the candidates rather than to the feeds.
func confirmedCodes(ctx context.Context, cfg ingestConfig) (map[string]int, error) {
	var filters []*bloom.BloomFilter
	if cfg.Quorum > 1 {
		var err error
		if filters, err = buildFilters(ctx, cfg); err != nil {
			return nil, err
		}
	}

	// results[i] maps the candidates of feed i to the discount it lists.
	results := make([]map[string]int, len(cfg.Files))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range cfg.Files {
		g.Go(func() error {
			found := make(map[string]int)
			var scanned uint64
			err := streamFeed(gctx, path, func(line string) {
				l, ok := parseLine(line, cfg.Discount)
				if !ok {
					return
				}
				scanned++
				if scanned%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.String("file", path), slog.Uint64("codes", scanned))
				}
				if _, seen := found[l.Code]; seen {
					return
				}
				hits := 1
				for j, f := range filters {
					if j != i && f.TestString(l.Code) {
						hits++
					}
				}
				if hits >= cfg.Quorum {
					found[l.Code] = l.Discount
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			slog.Info("pass 2 complete",
				slog.String("file", path),
				slog.Uint64("codes", scanned),
				slog.Int("candidates", len(found)),
			)
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Bloom hits may be false positives; the exact per-file bitmask decides.
	masks := make(map[string]uint64)
	discounts := make(map[string]int)
	for i, found := range results {
		for code, pct := range found {
			masks[code] |= 1 << uint(i)
			if _, ok := discounts[code]; !ok {
				discounts[code] = pct
			}
		}
	}
	out := make(map[string]int)
	for code, mask := range masks {
		if bits.OnesCount64(mask) >= cfg.Quorum {
			out[code] = discounts[code]
		}
	}
	return out, nil
}

// buildFilters creates one bloom filter per feed, concurrently.
func buildFilters(ctx context.Context, cfg ingestConfig) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(cfg.Files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range cfg.Files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(cfg.Capacity, cfg.FalsePositiveRate)
			var count uint64
			err := streamFeed(ctx, path, func(line string) {
				if l, ok := parseLine(line, cfg.Discount); ok {
					filter.AddString(l.Code)
					count++
				}
			})
			if err != nil {
				return errors.Wrapf(err, "index %s", path)
			}
			slog.Info("pass 1 complete", slog.String("file", path), slog.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// streamFeed opens a gzip-compressed feed and calls fn for each line.
func streamFeed(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read lines")
	}
	return nil
}

type creator interface {
	Create(ctx context.Context, code string, discount int) (*coupon.Coupon, error)
}

type importStats struct {
	Created  int64
	Existing int64
}

// importCoupons registers codes through the coupon registry. Codes that
// already exist are counted and left untouched.
func importCoupons(ctx context.Context, reg creator, codes map[string]int, workers int) (importStats, error) {
	sorted := make([]string, 0, len(codes))
	for code := range codes {
		sorted = append(sorted, code)
	}
	slices.Sort(sorted)

	var created, existing, done atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, code := range sorted {
		g.Go(func() error {
			_, err := reg.Create(ctx, code, codes[code])
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, coupon.ErrDuplicateCode):
				existing.Add(1)
			default:
				return errors.Wrapf(err, "create coupon %s", code)
			}
			if n := done.Add(1); n%1000 == 0 {
				slog.Info("write progress", slog.Int64("written", n), slog.Int("total", len(sorted)))
			}
			return nil
		})
	}
	err := g.Wait()
	return importStats{Created: created.Load(), Existing: existing.Load()}, err
}
