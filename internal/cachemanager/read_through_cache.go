package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache serves values from cache and falls back to a loader on
// miss, storing the loaded value. Loader errors are returned and not cached.
type ReadThroughCache[K comparable, V any, I any] struct {
	cache    CacheManager[K, V]
	load     func(ctx context.Context, input I) (V, error)
	disabled bool
}

// NewReadThroughCache wires a loader to cache. With disabled set every call
// goes straight to the loader.
func NewReadThroughCache[K comparable, V any, I any](
	cache CacheManager[K, V],
	load func(ctx context.Context, input I) (V, error),
	disabled bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{cache: cache, load: load, disabled: disabled}
}

func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if r.disabled {
		return r.load(ctx, input)
	}
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}
	return r.fill(ctx, key, input, ttl)
}

func (r *ReadThroughCache[K, V, I]) GetWithRefresh(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	if r.disabled {
		return r.load(ctx, input)
	}
	if value, ok := r.cache.GetWithRefresh(ctx, key, ttl); ok {
		return value, nil
	}
	return r.fill(ctx, key, input, ttl)
}

func (r *ReadThroughCache[K, V, I]) fill(ctx context.Context, key K, input I, ttl time.Duration) (V, error) {
	value, err := r.load(ctx, input)
	if err != nil {
		return value, err
	}
	r.cache.Set(ctx, key, value, ttl)
	return value, nil
}
