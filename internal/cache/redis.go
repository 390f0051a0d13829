// Package cache implements the redis-backed order cache, checkout
// idempotency keys and a shared rate limiter.
package cache

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

const (
	// order:{order_id} -> hash {v: version, o: order JSON}
	keyOrder = "order:%s"
	// idem:order:create:{user_id}:{key} -> order_id or pendingMarker
	keyIdemOrderCreate = "idem:order:create:%s:%s"
	// ratelimit:{client}:{window_start_unix}
	keyRateLimit = "ratelimit:%s:%d"
)

const (
	DefaultOrderTTL       = 5 * time.Minute
	DefaultIdempotencyTTL = 24 * time.Hour
)

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 2 * time.Second
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return rdb, nil
}
