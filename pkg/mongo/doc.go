// Package mongo connects to MongoDB with the official v2 driver. It backs
// the optional document-store dead-letter queue.
//
//	client, err := mongo.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Disconnect(context.WithoutCancel(ctx))
//	db := client.Database(cfg.Database)
//
// New pings the primary before returning and gives up with
// ErrFailedToConnectToMongo after RetryAttempts. Healthcheck returns a
// readiness probe.
package mongo
