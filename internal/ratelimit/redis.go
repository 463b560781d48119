// ABOUTME: Redis-backed counter store for multi-process deployments
// ABOUTME: INCR gives the atomic increment-and-get; a TTL reclaims stale buckets

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL is how long a bucket key survives after its last increment.
// Buckets are never read again once their window passes, so any TTL longer
// than the largest configured window works; 25h covers the daily limits.
const counterTTL = 25 * time.Hour

// RedisCounters implements Counters on a Redis instance shared by all
// server processes.
type RedisCounters struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCounters creates a counter store on the given client. Keys are
// namespaced under "ratelimit:".
func NewRedisCounters(rdb *redis.Client) *RedisCounters {
	return &RedisCounters{rdb: rdb, prefix: "ratelimit:"}
}

// IncrementAndGet atomically increments bucketKey and returns the new count.
// The TTL is set only when the key is first created (count == 1), keeping
// the hot path at one round trip via pipelining.
func (c *RedisCounters) IncrementAndGet(ctx context.Context, bucketKey string) (int64, error) {
	key := c.prefix + bucketKey

	pipe := c.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %q: %w", bucketKey, err)
	}
	return incr.Val(), nil
}
