package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect parses cfg.URL, applies pool settings and pings the server,
// retrying with linear backoff.
func Connect(ctx context.Context, cfg Config) (redis.UniversalClient, error) {
	opts, err := parseOptions(cfg)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i := range max(cfg.RetryAttempts, 1) {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Join(ErrConnectionFailed, ctx.Err())
			case <-time.After(time.Duration(i) * cfg.RetryInterval):
			}
		}

		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			lastErr = err
			continue
		}
		return client, nil
	}

	return nil, errors.Join(ErrConnectionFailed, lastErr)
}

func parseOptions(cfg Config) (*redis.Options, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyConnectionURL
	}
	if !strings.HasPrefix(cfg.URL, "redis://") && !strings.HasPrefix(cfg.URL, "rediss://") {
		return nil, ErrFailedToParseURL
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseURL, err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.MaxIdleTime > 0 {
		opts.ConnMaxIdleTime = cfg.MaxIdleTime
	}
	if cfg.MaxLifetime > 0 {
		opts.ConnMaxLifetime = cfg.MaxLifetime
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return opts, nil
}
