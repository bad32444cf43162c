package session_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/guard/core/session"
	"github.com/dmitrymomot/guard/pkg/clock"
	"github.com/dmitrymomot/guard/pkg/secrets"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore(t *testing.T) {
	t.Parallel()

	client := newRedisClient(t)
	ctx := context.Background()

	cipher, err := secrets.NewCipher([]byte(strings.Repeat("k", 32)), "session-store")
	require.NoError(t, err)

	prefix := "test:session:" + uuid.NewString() + ":"
	store := session.NewRedisStore(client, time.Hour, session.WithRedisPrefix(prefix), session.WithCipher(cipher))
	mgr := session.NewManager(store)

	sess, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)
	sess, err = mgr.Set(ctx, sess, "user_id", "u-7")
	require.NoError(t, err)

	raw, err := client.Get(ctx, prefix+"id:"+sess.ID.String()).Bytes()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "u-7")

	ttl, err := client.TTL(ctx, prefix+"token:"+sess.Token).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	loaded, err := store.GetByToken(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "u-7", loaded.GetString("user_id"))

	rotated, err := mgr.Regenerate(ctx, sess)
	require.NoError(t, err)

	_, err = store.GetByToken(ctx, sess.Token)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.ErrorIs(t, store.Rotate(ctx, sess.Token, rotated), session.ErrNotFound)
	assert.ErrorIs(t, store.Save(ctx, sess), session.ErrTokenChanged)

	require.NoError(t, mgr.Destroy(ctx, rotated))
	_, err = store.GetByID(ctx, rotated.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.ErrorIs(t, store.Save(ctx, rotated), session.ErrNotFound)
}

// interleavingStore runs hook once, right after the first GetByID that
// follows arming, to simulate another instance acting between a read and
// the write that follows it.
type interleavingStore struct {
	session.Store

	mu   sync.Mutex
	hook func()
}

func (s *interleavingStore) arm(hook func()) {
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
}

func (s *interleavingStore) GetByID(ctx context.Context, id uuid.UUID) (session.Session, error) {
	sess, err := s.Store.GetByID(ctx, id)

	s.mu.Lock()
	hook := s.hook
	s.hook = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return sess, err
}

func TestRedisStore_SharedAcrossInstances(t *testing.T) {
	t.Parallel()

	client := newRedisClient(t)
	ctx := context.Background()
	clk := clock.NewMock(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	opts := []session.Option{
		session.WithClock(clk),
		session.WithIdleTimeout(time.Hour),
		session.WithRotationInterval(30 * time.Minute),
	}

	shared := session.NewRedisStore(client, time.Hour)
	slow := &interleavingStore{Store: shared}
	instanceA := session.NewManager(slow, opts...)
	instanceB := session.NewManager(shared, opts...)

	sess, err := instanceB.Ensure(ctx, "")
	require.NoError(t, err)
	sess, err = instanceB.Set(ctx, sess, "user_id", "u-42")
	require.NoError(t, err)

	clk.Advance(31 * time.Minute)

	var rotated session.Session
	slow.arm(func() {
		var err error
		rotated, err = instanceB.RotateIfDue(ctx, sess)
		require.NoError(t, err)
	})

	touched, err := instanceA.Touch(ctx, sess)
	require.NoError(t, err)
	require.NotEqual(t, sess.Token, rotated.Token)

	assert.Equal(t, sess.ID, touched.ID)
	assert.Equal(t, rotated.Token, touched.Token, "a stale copy must not restore the old token")
	assert.Equal(t, "u-42", touched.GetString("user_id"))

	resolved, err := instanceB.Ensure(ctx, rotated.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, resolved.ID)
	assert.Equal(t, "u-42", resolved.GetString("user_id"))

	_, err = shared.GetByToken(ctx, sess.Token)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestRedisStore_ConcurrentRotation(t *testing.T) {
	t.Parallel()

	client := newRedisClient(t)
	ctx := context.Background()
	clk := clock.NewMock(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	store := session.NewRedisStore(client, time.Hour)

	managers := make([]*session.Manager, 4)
	for i := range managers {
		managers[i] = session.NewManager(store,
			session.WithClock(clk),
			session.WithRotationInterval(30*time.Minute))
	}

	sess, err := managers[0].Ensure(ctx, "")
	require.NoError(t, err)
	_, err = managers[0].Set(ctx, sess, "role", "admin")
	require.NoError(t, err)
	clk.Advance(time.Hour - time.Minute)

	var wg sync.WaitGroup
	results := make([]session.Session, len(managers))
	for i, mgr := range managers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := mgr.RotateIfDue(ctx, sess)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	live, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", live.GetString("role"))

	resolved, err := store.GetByToken(ctx, live.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, resolved.ID)

	for _, res := range results {
		assert.Equal(t, sess.ID, res.ID)
	}
}
