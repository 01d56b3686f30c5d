// Package cache provides a redis-backed read cache for pool views. Cached
// entries are a convenience for the read path only; mutating operations
// always go through the versioned pool repository and invalidate here after
// a confirmed mirror update.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aqarchain/liquidity-ledger/internal/models"
)

// PoolCache caches pool rows by pool_id with a TTL.
type PoolCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPoolCache creates a pool cache with the given TTL.
func NewPoolCache(rdb *redis.Client, ttl time.Duration) *PoolCache {
	return &PoolCache{rdb: rdb, ttl: ttl}
}

func poolKey(poolID string) string {
	return "pool:" + poolID
}

// Get returns the cached pool or (nil, nil) on a miss.
func (c *PoolCache) Get(ctx context.Context, poolID string) (*models.Pool, error) {
	data, err := c.rdb.Get(ctx, poolKey(poolID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var pool models.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return nil, err
	}
	return &pool, nil
}

// Set stores the pool under its pool_id.
func (c *PoolCache) Set(ctx context.Context, pool *models.Pool) error {
	data, err := json.Marshal(pool)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, poolKey(pool.PoolID), data, c.ttl).Err()
}

// Invalidate drops the cached entry for a pool.
func (c *PoolCache) Invalidate(ctx context.Context, poolID string) error {
	return c.rdb.Del(ctx, poolKey(poolID)).Err()
}
