// Package redis connects go-redis clients from environment configuration.
//
// Redis is optional for the newsletter service: it backs the per-send-key
// dispatch lock and the progress cache when REDIS_URL is set.
//
//	client, err := redis.Connect(ctx, cfg.Redis)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
package redis
