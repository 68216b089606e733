//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hybridprotocol/newsletter/pkg/id"
	"github.com/hybridprotocol/newsletter/pkg/redis"
)

func TestRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}

	ctx := context.Background()
	client, err := redis.Connect(ctx, redis.Config{URL: url, RetryAttempts: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	c := NewRedis[snapshot](client, nil, WithPrefix("test:"+id.NewULID()))

	_, err = c.Get(ctx, "abc123")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "abc123", snapshot{Sent: 1, Total: 5}, time.Minute))
	got, err := c.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, snapshot{Sent: 1, Total: 5}, got)

	ttl, err := client.TTL(ctx, c.key("abc123")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, c.Delete(ctx, "abc123"))
	_, err = c.Get(ctx, "abc123")
	require.ErrorIs(t, err, ErrNotFound)
}
