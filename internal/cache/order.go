package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/codec"
	"github.com/xenking/storefront/internal/domain/order"
)

var _ order.Cache = (*OrderCache)(nil)

// An order entry is a hash with the snapshot in "o" and its version in "v".
// Versions are zero-padded UpdatedAt nanoseconds so redis compares them as
// strings. An invalidated entry keeps only tombstoneVersion.
const (
	fieldOrder       = "o"
	fieldVersion     = "v"
	tombstoneVersion = "99999999999999999999"
)

// setOrderScript writes the snapshot unless the stored version is newer.
var setOrderScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "v")
if cur and cur > ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "v", ARGV[1], "o", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// OrderCache keeps recently read orders in redis.
type OrderCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewOrderCache creates an OrderCache. A non-positive ttl selects
// DefaultOrderTTL.
func NewOrderCache(rdb redis.Cmdable, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = DefaultOrderTTL
	}
	return &OrderCache{rdb: rdb, ttl: ttl}
}

func orderVersion(o *order.Order) string {
	return fmt.Sprintf("%020d", o.UpdatedAt.UnixNano())
}

func (c *OrderCache) Get(ctx context.Context, id string) (*order.Order, error) {
	b, err := c.rdb.HGet(ctx, fmt.Sprintf(keyOrder, id), fieldOrder).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "hget")
	}
	o, err := codec.UnmarshalOrder(b)
	if err != nil {
		// A stale layout is treated as a miss; the next Set overwrites it.
		return nil, nil
	}
	return o, nil
}

func (c *OrderCache) Set(ctx context.Context, o *order.Order) error {
	err := setOrderScript.Run(ctx, c.rdb,
		[]string{fmt.Sprintf(keyOrder, o.ID)},
		orderVersion(o), codec.MarshalOrder(o), c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return errors.Wrap(err, "set")
	}
	return nil
}

func (c *OrderCache) Invalidate(ctx context.Context, id string) error {
	k := fmt.Sprintf(keyOrder, id)
	if _, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.HSet(ctx, k, fieldVersion, tombstoneVersion)
		p.PExpire(ctx, k, c.ttl)
		return nil
	}); err != nil {
		return errors.Wrap(err, "invalidate")
	}
	return nil
}
