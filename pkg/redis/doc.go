// Package redis connects to Redis with go-redis and exposes a health check.
//
// Connect parses the connection URL and pings the server, retrying with a
// fixed interval until ConnectTimeout elapses:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	health := redis.Healthcheck(client)
//
// Configuration comes from REDIS_* environment variables through Config.
package redis
