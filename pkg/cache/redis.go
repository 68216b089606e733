package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a cache stored in Redis under "<prefix>:<key>".
type Redis[V any] struct {
	client     redis.UniversalClient
	marshaler  Marshaler[V]
	prefix     string
	defaultTTL time.Duration
}

// RedisOption configures the Redis cache.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix     string
	defaultTTL time.Duration
}

// WithPrefix namespaces keys. Default: no prefix.
func WithPrefix(prefix string) RedisOption {
	return func(o *redisOptions) { o.prefix = prefix }
}

// WithRedisDefaultTTL sets the TTL used when Set gets zero. Default: 1h.
func WithRedisDefaultTTL(d time.Duration) RedisOption {
	return func(o *redisOptions) { o.defaultTTL = d }
}

// NewRedis creates a Redis-backed cache. A nil Marshaler means JSON. The
// client is owned by the caller; Close does not close it.
func NewRedis[V any](client redis.UniversalClient, m Marshaler[V], opts ...RedisOption) *Redis[V] {
	o := &redisOptions{defaultTTL: time.Hour}
	for _, opt := range opts {
		opt(o)
	}
	if m == nil {
		m = jsonMarshaler[V]{}
	}
	return &Redis[V]{
		client:     client,
		marshaler:  m,
		prefix:     o.prefix,
		defaultTTL: o.defaultTTL,
	}
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	return r.marshaler.Unmarshal(data)
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	data, err := r.marshaler.Marshal(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	// Redis treats 0 as no expiry.
	return r.client.Set(ctx, r.key(key), data, max(ttl, 0)).Err()
}

func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *Redis[V]) Close() error { return nil }

func (r *Redis[V]) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

var _ Cache[any] = (*Redis[any])(nil)
