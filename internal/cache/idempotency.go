package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.Idempotency = (*Idempotency)(nil)

const pendingMarker = "-"

// releaseScript deletes a key only while it still holds the pending marker,
// so a completed checkout is never forgotten.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Idempotency stores checkout idempotency keys in redis.
type Idempotency struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewIdempotency creates an Idempotency store. A non-positive ttl selects
// DefaultIdempotencyTTL.
func NewIdempotency(rdb redis.Cmdable, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &Idempotency{rdb: rdb, ttl: ttl}
}

func (i *Idempotency) Claim(ctx context.Context, userID, key string) (string, bool, error) {
	k := fmt.Sprintf(keyIdemOrderCreate, userID, key)
	ok, err := i.rdb.SetNX(ctx, k, pendingMarker, i.ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "setnx")
	}
	if ok {
		return "", true, nil
	}
	v, err := i.rdb.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired or released between the two calls; report it as busy and
		// let the client retry.
		return "", false, nil
	case err != nil:
		return "", false, errors.Wrap(err, "get")
	case v == pendingMarker:
		return "", false, nil
	default:
		return v, false, nil
	}
}

func (i *Idempotency) Complete(ctx context.Context, userID, key, orderID string) error {
	k := fmt.Sprintf(keyIdemOrderCreate, userID, key)
	if err := i.rdb.Set(ctx, k, orderID, i.ttl).Err(); err != nil {
		return errors.Wrap(err, "set")
	}
	return nil
}

func (i *Idempotency) Release(ctx context.Context, userID, key string) error {
	k := fmt.Sprintf(keyIdemOrderCreate, userID, key)
	if err := releaseScript.Run(ctx, i.rdb, []string{k}, pendingMarker).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "release")
	}
	return nil
}
