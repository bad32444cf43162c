// Package ratelimiter provides sliding-window admission control keyed by client
// identity and action, with pluggable storage backends.
//
// # Sliding Window
//
// Each (identifier, action) pair owns an ordered list of request timestamps. On every
// call the store atomically:
//  1. Prunes timestamps older than now-window
//  2. Denies the request if the remaining count is >= MaxRequests
//  3. Otherwise records now and admits the request
//
// Denied attempts are never recorded, so a client that keeps hammering a closed window
// does not extend its own lockout, and storage per key is bounded by MaxRequests.
//
// # Usage
//
//	store := ratelimiter.NewMemoryStore()
//	limiter := ratelimiter.New(store)
//
//	res, err := limiter.Allow(ctx, clientIP, "login", ratelimiter.Limit{
//		MaxRequests: 5,
//		Window:      5 * time.Minute,
//	})
//	if err != nil {
//		// storage failure: choose fail-open or fail-closed
//	}
//	if !res.Allowed() {
//		log.Printf("rate limited, retry after %v", res.RetryAfter())
//	}
//
// Distinct call sites use distinct action labels ("login", "general_access") so their
// limits are independent for the same client.
//
// # Storage Backends
//
//   - MemoryStore: single instance. A background sweep (Start/Run) evicts keys with
//     no requests in the last hour to bound memory for identifiers that go idle.
//   - RedisStore: shared across instances; a Lua script over a sorted set keeps the
//     prune-check-record sequence atomic. Keys expire with the window.
//   - PostgresStore: shared across instances through database/sql; a transaction-scoped
//     advisory lock serializes callers per key. The table is created by the migrations
//     in integration/database/pg.
//
// Per-call pruning is authoritative for admission. The hourly sweep is housekeeping.
//
// # Errors
//
// A denied request is a Result, not an error. Errors are reserved for invalid limits
// (ErrInvalidLimit) and storage failures (wrapped with ErrStoreUnavailable).
package ratelimiter
