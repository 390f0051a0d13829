package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/pkg/httpmiddleware"
)

var _ httpmiddleware.Limiter = (*RateLimiter)(nil)

// RateLimiter is a fixed window limiter shared by every API replica.
type RateLimiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
}

// NewRateLimiter allows limit requests per key in each window.
func NewRateLimiter(rdb redis.Cmdable, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window}
}

func (l *RateLimiter) Allow(ctx context.Context, key string, now time.Time) (httpmiddleware.Decision, error) {
	start := now.Truncate(l.window)
	k := fmt.Sprintf(keyRateLimit, key, start.Unix())

	var incr *redis.IntCmd
	if _, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, 2*l.window)
		return nil
	}); err != nil {
		return httpmiddleware.Decision{}, errors.Wrap(err, "incr")
	}

	count := int(incr.Val())
	d := httpmiddleware.Decision{
		Limit:     l.limit,
		Remaining: max(l.limit-count, 0),
		ResetAt:   start.Add(l.window),
		Allowed:   count <= l.limit,
	}
	return d, nil
}
