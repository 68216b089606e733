package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is a key-value store with expiry.
//
// TTL passed to Set: positive expires after that duration, zero uses the
// cache default, negative never expires.
type Cache[V any] interface {
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (V, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Marshaler converts values for byte-oriented backends.
type Marshaler[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

type jsonMarshaler[V any] struct{}

func (jsonMarshaler[V]) Marshal(v V) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrMarshal, err)
	}
	return data, nil
}

func (jsonMarshaler[V]) Unmarshal(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Join(ErrUnmarshal, err)
	}
	return v, nil
}

var group singleflight.Group

type computed[V any] struct {
	val V
	ttl time.Duration
}

// GetOrSet returns the cached value for key or computes it with fn.
// Concurrent misses for the same cache and key share one fn call. Values
// are cached best-effort with the TTL fn returns; fn errors are not cached.
func GetOrSet[V any](ctx context.Context, c Cache[V], key string, fn func(ctx context.Context) (V, time.Duration, error)) (V, error) {
	if v, err := c.Get(ctx, key); err == nil {
		return v, nil
	}

	// The cache identity is part of the flight key so caches of different
	// value types never share a result.
	flight := fmt.Sprintf("%p:%s", c, key)
	res, err, _ := group.Do(flight, func() (any, error) {
		val, ttl, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		_ = c.Set(ctx, key, val, ttl)
		return computed[V]{val: val, ttl: ttl}, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(computed[V]).val, nil
}
