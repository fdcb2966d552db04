package contacts

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const dncSetKey = "dialer:dnc"

// DNCLookup is the durable fallback behind the cache.
type DNCLookup interface {
	IsDNC(ctx context.Context, phone string) (bool, error)
}

// DNCCache answers "is this phone on the do-not-call list" from a redis
// set, falling back to the store when redis is unconfigured or down. The
// set is populated on every DNC insert; a cache miss is therefore at worst
// a store round-trip, never a wrong answer.
type DNCCache struct {
	rdb   *redis.Client
	store DNCLookup
	log   *slog.Logger
}

func NewDNCCache(rdb *redis.Client, store DNCLookup, log *slog.Logger) *DNCCache {
	return &DNCCache{rdb: rdb, store: store, log: log}
}

// Contains checks the redis set first, then the store.
func (c *DNCCache) Contains(ctx context.Context, phone string) (bool, error) {
	if c.rdb != nil {
		member, err := c.rdb.SIsMember(ctx, dncSetKey, phone).Result()
		if err == nil {
			if member {
				return true, nil
			}
			// Negative answers still consult the store: the set only
			// grows from this process, other writers go direct to SQL.
		} else {
			c.log.Warn("dnc cache lookup failed, using store", "err", err)
		}
	}
	return c.store.IsDNC(ctx, phone)
}

// Add records the phone in the cache. Best-effort; the durable row is the
// source of truth.
func (c *DNCCache) Add(ctx context.Context, phone string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.SAdd(ctx, dncSetKey, phone).Err(); err != nil {
		c.log.Warn("dnc cache add failed", "phone", phone, "err", err)
	}
}
