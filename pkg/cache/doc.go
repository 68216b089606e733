// Package cache provides a small generic Cache with in-memory and Redis
// backends, plus GetOrSet for stampede-free read-through caching.
//
// The newsletter service stores dispatch progress snapshots here and caches
// delivery statistics read by the admin API:
//
//	progress := cache.NewRedis[dispatch.Progress](client, nil, cache.WithPrefix("newsletter:progress"))
//	stats, err := cache.GetOrSet(ctx, statsCache, sendKey, func(ctx context.Context) (Stats, time.Duration, error) {
//		s, err := ledger.Stats(ctx, newsletterID)
//		return s, 5 * time.Second, err
//	})
package cache
