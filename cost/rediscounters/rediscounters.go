// Package rediscounters implements cost.Counters on top of Redis INCRBY,
// so a workspace's per-day/per-month rolling totals are shared correctly
// across multiple control-plane processes (spec §5: "Workspace-level
// totals in the Cost Tracker are the only cross-run shared mutable state
// and must be guarded"). Grounded on the teacher's registry.Service, which
// injects a *redis.Client via an Options struct and calls simple
// single-command operations against it (registry/service.go's
// SetResultStreamTTL / rdb.Expire).
package rediscounters

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures a Counters instance.
type Options struct {
	// Client is a connected Redis client. Required.
	Client *redis.Client
	// KeyPrefix namespaces counter keys, default "rcp:cost:".
	KeyPrefix string
	// Expiry bounds how long an idle rolling-total key survives, default
	// 40 days (comfortably covers a calendar month bucket).
	Expiry time.Duration
}

const (
	defaultKeyPrefix = "rcp:cost:"
	defaultExpiry    = 40 * 24 * time.Hour
)

// Counters is a Redis-backed cost.Counters.
type Counters struct {
	client   *redis.Client
	prefix   string
	expiry   time.Duration
}

// New builds a Counters from opts. Returns an error if Client is nil.
func New(opts Options) (*Counters, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("rediscounters: redis client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	return &Counters{client: opts.Client, prefix: prefix, expiry: expiry}, nil
}

func (c *Counters) key(periodKey string) string {
	return c.prefix + periodKey
}

// IncrBy atomically adds deltaCents to key's running total via INCRBY,
// refreshing the key's expiry so idle workspace buckets eventually evict.
func (c *Counters) IncrBy(ctx context.Context, periodKey string, deltaCents int64) (int64, error) {
	key := c.key(periodKey)
	total, err := c.client.IncrBy(ctx, key, deltaCents).Result()
	if err != nil {
		return 0, fmt.Errorf("rediscounters: incrby %s: %w", key, err)
	}
	if err := c.client.Expire(ctx, key, c.expiry).Err(); err != nil {
		return 0, fmt.Errorf("rediscounters: expire %s: %w", key, err)
	}
	return total, nil
}

// Peek returns key's current total without mutating it, treating a
// missing key as zero.
func (c *Counters) Peek(ctx context.Context, periodKey string) (int64, error) {
	key := c.key(periodKey)
	val, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("rediscounters: get %s: %w", key, err)
	}
	return val, nil
}
