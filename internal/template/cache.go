package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/notifykit/notifykit/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 10 * time.Minute

// Cache is a read-mostly template cache with explicit point invalidation.
type Cache interface {
	Get(ctx context.Context, key string) (*domain.Template, bool, error)
	Set(ctx context.Context, key string, tpl *domain.Template) error
	Delete(ctx context.Context, key string) error
}

// CacheKey builds the cache key for a stored template. A nil method maps
// to the global-template slot for that name.
func CacheKey(method *domain.DeliveryMethod, name string) string {
	h := fnv.New64a()
	if method != nil {
		h.Write([]byte(method.String()))
	}
	h.Write([]byte{0})
	h.Write([]byte(name))
	return fmt.Sprintf("notify:tpl:%x", h.Sum64())
}

// RedisCache stores marshaled templates in Redis with a bounded TTL.
type RedisCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisCache(client *goredis.Client, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*domain.Template, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("template cache get failed: %w", err)
	}

	var tpl domain.Template
	if err := json.Unmarshal(raw, &tpl); err != nil {
		// Stale or corrupt entry; treat as a miss.
		return nil, false, nil
	}
	return &tpl, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, tpl *domain.Template) error {
	if tpl == nil {
		return fmt.Errorf("template is required")
	}
	raw, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("template cache marshal failed: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("template cache set failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("template cache delete failed: %w", err)
	}
	return nil
}
