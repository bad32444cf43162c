package ratelimiter_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/guard/pkg/ratelimiter"
)

func TestLimiter_ConcurrentSafety(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping race condition test in short mode")
	}

	t.Parallel()

	ctx := context.Background()
	limit := ratelimiter.Limit{MaxRequests: 50, Window: time.Hour}

	t.Run("concurrent requests same key never exceed limit", func(t *testing.T) {
		t.Parallel()

		limiter := ratelimiter.New(ratelimiter.NewMemoryStore())
		goroutines := 100
		requestsPerGoroutine := 20

		var wg sync.WaitGroup
		wg.Add(goroutines)

		var allowed, denied atomic.Int64

		for range goroutines {
			go func() {
				defer wg.Done()
				for range requestsPerGoroutine {
					res, err := limiter.Allow(ctx, "192.0.2.1", "login", limit)
					if err != nil {
						continue
					}
					if res.Allowed() {
						allowed.Add(1)
					} else {
						denied.Add(1)
					}
				}
			}()
		}

		wg.Wait()

		assert.Equal(t, int64(goroutines*requestsPerGoroutine), allowed.Load()+denied.Load())
		assert.Equal(t, int64(limit.MaxRequests), allowed.Load())
	})

	t.Run("concurrent requests different keys are isolated", func(t *testing.T) {
		t.Parallel()

		store := ratelimiter.NewMemoryStore()
		limiter := ratelimiter.New(store)
		goroutines := 50

		var wg sync.WaitGroup
		wg.Add(goroutines)

		for i := range goroutines {
			go func(id int) {
				defer wg.Done()
				ip := fmt.Sprintf("192.0.2.%d", id)
				for range limit.MaxRequests {
					res, err := limiter.Allow(ctx, ip, "general_access", limit)
					if assert.NoError(t, err) {
						assert.True(t, res.Allowed())
					}
				}
			}(i)
		}

		wg.Wait()
		assert.Equal(t, goroutines, store.Stats().ActiveWindows)
	})
}
