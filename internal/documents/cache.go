package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/hardware-ledger/internal/platform/cache"
)

// Cache stores voided documents by id. Voided is the only status that never
// changes again.
type Cache interface {
	Get(ctx context.Context, id string) (Document, bool, error)
	Set(ctx context.Context, doc Document) error
	Delete(ctx context.Context, id string) error
}

// RedisCache implements Cache on Redis.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache constructs a Redis backed cache.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(id string) string {
	return fmt.Sprintf("documents:%s", id)
}

// Get returns a cached document.
func (c *RedisCache) Get(ctx context.Context, id string) (Document, bool, error) {
	var doc Document
	hit, err := cache.GetJSON(ctx, c.client, cacheKey(id), &doc)
	if err != nil || !hit {
		return Document{}, false, err
	}
	return doc, true, nil
}

// Set caches doc when it is voided and ignores every other status.
func (c *RedisCache) Set(ctx context.Context, doc Document) error {
	if doc.Status != StatusVoided {
		return nil
	}
	return cache.SetJSON(ctx, c.client, cacheKey(doc.ID), doc, c.ttl)
}

// Delete drops a cached document.
func (c *RedisCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, cacheKey(id)).Err()
}
