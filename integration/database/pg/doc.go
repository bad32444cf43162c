// Package pg connects to PostgreSQL through pgx and applies the embedded goose
// migrations that back the rate limiter's PostgresStore.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	db := pg.DB(pool)
//	if err := pg.Migrate(ctx, db, logger); err != nil {
//		return err
//	}
//	store := ratelimiter.NewPostgresStore(db)
//
// Connect retries failed attempts with a growing interval and respects context
// cancellation. Healthcheck returns a ping function suitable for readiness checks.
package pg
