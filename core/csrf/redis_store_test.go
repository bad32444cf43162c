package csrf_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/guard/core/csrf"
	"github.com/dmitrymomot/guard/pkg/clock"
)

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	client, _ := newRedisClient(t)
	ctx := context.Background()
	prefix := "test:csrf:" + uuid.NewString() + ":"
	store := csrf.NewRedisStore(client, csrf.WithRedisPrefix(prefix))

	mgr, err := csrf.NewManager(store, testSecret)
	require.NoError(t, err)

	token, err := mgr.Issue(ctx, "S")
	require.NoError(t, err)

	ttl, err := client.PTTL(ctx, prefix+"S").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	assert.False(t, mgr.Validate(ctx, "S", "forged"), "mismatch")
	assert.False(t, mgr.Validate(ctx, "other", token), "wrong session")
	assert.True(t, mgr.Validate(ctx, "S", token))
	assert.False(t, mgr.Validate(ctx, "S", token), "single use")

	exists, err := client.Exists(ctx, prefix+"S").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	_, _, err = store.Consume(ctx, "missing", func(csrf.Record) bool { return true })
	assert.ErrorIs(t, err, csrf.ErrNotFound)

	_, err = mgr.Issue(ctx, "S")
	require.NoError(t, err)
	require.NoError(t, mgr.Revoke(ctx, "S"))
	exists, err = client.Exists(ctx, prefix+"S").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisStore_ExpiredRecordIsPurged(t *testing.T) {
	t.Parallel()

	client, _ := newRedisClient(t)
	ctx := context.Background()
	clk := clock.NewMock(time.Now())
	store := csrf.NewRedisStore(client)

	mgr, err := csrf.NewManager(store, testSecret, csrf.WithClock(clk), csrf.WithTTL(time.Hour))
	require.NoError(t, err)

	token, err := mgr.Issue(ctx, "S")
	require.NoError(t, err)

	// The key outlives the record when the server clock lags the manager's.
	clk.Advance(time.Hour + time.Second)
	assert.False(t, mgr.Validate(ctx, "S", token))

	exists, err := client.Exists(ctx, csrf.DefaultRedisPrefix+"S").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisStore_ConcurrentValidate(t *testing.T) {
	t.Parallel()

	client, _ := newRedisClient(t)
	ctx := context.Background()
	mgr, err := csrf.NewManager(csrf.NewRedisStore(client), testSecret)
	require.NoError(t, err)

	token, err := mgr.Issue(ctx, "S")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if mgr.Validate(ctx, "S", token) {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}
