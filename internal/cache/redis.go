package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reporun/reporun/internal/models"
)

// TTL is how long a cached run projection stays valid. The cache is a
// read accelerator only; the run store remains the source of truth.
const TTL = 2 * time.Hour

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr string) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisCache{client: rdb}
}

// NewRedisCacheFromClient wraps an existing client, so the cache and the
// event log can share one connection pool.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Client exposes the underlying Redis client for health checks.
func (c *RedisCache) Client() *redis.Client { return c.client }

func runKey(id string) string { return "run:" + id }

// Get returns the cached projection, or false on miss or any error so
// the caller falls through to the run store.
func (c *RedisCache) Get(ctx context.Context, id string) (*models.Run, bool) {
	run := &models.Run{}
	val, err := c.client.Get(ctx, runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	} else if err != nil {
		return nil, false
	}
	if err := json.Unmarshal(val, run); err != nil {
		return nil, false
	}

	return run, true
}

// Set stores the projection. Failures are the caller's to swallow; a
// cache write never fails the transition that triggered it.
func (c *RedisCache) Set(ctx context.Context, run *models.Run) error {
	b, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, runKey(run.ID.String()), b, TTL).Err()
}
