package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/chunkrun/internal/log"
)

const (
	DefaultExpiration      = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// InMemory is a CacheManager backed by go-cache. Name labels log lines so
// several caches can be told apart.
type InMemory[V any] struct {
	name  string
	cache *gocache.Cache
}

// NewInMemory returns an empty cache with the given default expiry and
// janitor interval.
func NewInMemory[V any](name string, defaultExpiration, cleanupInterval time.Duration) *InMemory[V] {
	return &InMemory[V]{
		name:  name,
		cache: gocache.New(defaultExpiration, cleanupInterval),
	}
}

var _ CacheManager[string, int] = (*InMemory[int])(nil)

func (c *InMemory[V]) Get(_ context.Context, key string) (V, bool) {
	var zero V

	value, found := c.cache.Get(key)
	if !found {
		log.Debug(log.CatCache, "cache miss", "cache", c.name, "key", key)
		return zero, false
	}

	v, ok := value.(V)
	if !ok {
		log.Error(log.CatCache, "wrong type stored in cache", "cache", c.name, "key", key)
		return zero, false
	}
	return v, true
}

// GetWithRefresh returns the value and, on a hit, resets its expiry to ttl.
func (c *InMemory[V]) GetWithRefresh(ctx context.Context, key string, ttl time.Duration) (V, bool) {
	value, found := c.Get(ctx, key)
	if found {
		c.Set(ctx, key, value, ttl)
	}
	return value, found
}

func (c *InMemory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) {
	c.cache.Set(key, value, ttl)
}

func (c *InMemory[V]) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		c.cache.Delete(key)
	}
	return nil
}

func (c *InMemory[V]) Flush(_ context.Context) error {
	c.cache.Flush()
	return nil
}

// Len reports the number of items, including expired ones not yet evicted.
func (c *InMemory[V]) Len() int {
	return c.cache.ItemCount()
}
