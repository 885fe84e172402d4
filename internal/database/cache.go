package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Cache key prefixes
	CacheKeyPluginList = "proxpanel:plugins:list"
	CacheKeyPlugin     = "proxpanel:plugins:"

	// Cache TTLs
	CacheTTLPlugins = 5 * time.Minute
)

// ErrCacheDisabled is returned when no Redis connection is configured
var ErrCacheDisabled = errors.New("cache disabled")

// Cache is a thin JSON cache over Redis. A nil *Cache is valid and behaves
// as a disabled cache, so callers never have to branch on configuration.
type Cache struct {
	client *redis.Client
}

// NewCache wraps a Redis client. A nil client yields a disabled cache.
func NewCache(client *redis.Client) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client}
}

// Get retrieves a value from the cache and unmarshals it into dest
func (c *Cache) Get(key string, dest interface{}) error {
	if c == nil {
		return ErrCacheDisabled
	}
	ctx := context.Background()
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Set stores a value in the cache with a TTL
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	if c == nil {
		return ErrCacheDisabled
	}
	ctx := context.Background()
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes keys from the cache
func (c *Cache) Delete(keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	ctx := context.Background()
	return c.client.Del(ctx, keys...).Err()
}
