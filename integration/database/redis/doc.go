// Package redis creates go-redis clients with connection verification and retry.
//
// The client backs the shared session, CSRF and rate limit stores when a
// deployment runs more than one instance:
//
//	client, err := redis.Connect(ctx, redis.Config{
//		ConnectionURL: "redis://localhost:6379/0",
//		RetryAttempts: 3,
//		RetryInterval: time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Both redis:// and rediss:// (TLS) URLs are accepted. Errors wrap the sentinel
// values in errors.go and can be checked with errors.Is.
package redis
