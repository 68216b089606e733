package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Only the holder's token may extend or delete the key.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis is a Locker shared by every worker connected to the same Redis.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a Redis locker; keys are stored as "<prefix>:<key>".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	k := r.key(key)
	token := newToken()

	ok, err := r.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLock{client: r.client, key: k, token: token}, nil
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

type redisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *redisLock) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock: refresh: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

var _ Locker = (*Redis)(nil)
