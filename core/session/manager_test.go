package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/guard/core/requestctx"
	"github.com/dmitrymomot/guard/core/session"
	"github.com/dmitrymomot/guard/pkg/clock"
)

func newManager(t *testing.T, opts ...session.Option) (*session.Manager, *session.MemoryStore, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	store := session.NewMemoryStore()
	opts = append([]session.Option{
		session.WithClock(clk),
		session.WithIdleTimeout(time.Hour),
		session.WithRotationInterval(30 * time.Minute),
	}, opts...)
	return session.NewManager(store, opts...), store, clk
}

func TestManager_Ensure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("creates session without token", func(t *testing.T) {
		t.Parallel()

		mgr, store, clk := newManager(t)
		sess, err := mgr.Ensure(ctx, "")
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, sess.ID)
		assert.Len(t, sess.Token, 43)
		assert.Equal(t, clk.Now(), sess.CreatedAt)
		assert.Equal(t, clk.Now(), sess.LastActivityAt)
		assert.Equal(t, 1, store.Len())
	})

	t.Run("captures request metadata", func(t *testing.T) {
		t.Parallel()

		mgr, _, _ := newManager(t)
		reqCtx := requestctx.WithMeta(ctx, requestctx.Meta{ClientIP: "192.0.2.1", UserAgent: "test-agent"})

		sess, err := mgr.Ensure(reqCtx, "")
		require.NoError(t, err)
		assert.Equal(t, "192.0.2.1", sess.IP)
		assert.Equal(t, "test-agent", sess.UserAgent)
	})

	t.Run("returns live session and records activity", func(t *testing.T) {
		t.Parallel()

		mgr, _, clk := newManager(t)
		first, err := mgr.Ensure(ctx, "")
		require.NoError(t, err)

		clk.Advance(5 * time.Minute)
		again, err := mgr.Ensure(ctx, first.Token)
		require.NoError(t, err)

		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, first.Token, again.Token)
		assert.Equal(t, clk.Now(), again.LastActivityAt)
	})

	t.Run("unknown and malformed tokens degrade to new session", func(t *testing.T) {
		t.Parallel()

		mgr, store, _ := newManager(t)
		for _, token := range []string{"garbage", "'; DROP TABLE sessions; --", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"} {
			sess, err := mgr.Ensure(ctx, token)
			require.NoError(t, err)
			assert.NotEqual(t, token, sess.Token)
		}
		assert.Equal(t, 3, store.Len())
	})
}

func TestManager_Rotation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, _, clk := newManager(t)

	sess, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)
	sess, err = mgr.Set(ctx, sess, "user_id", "u-42")
	require.NoError(t, err)

	original := sess.Token
	// Activity every 10s keeps the session alive; the token must not change
	// until more than 1800s have passed since creation.
	for elapsed := 10 * time.Second; elapsed <= 1800*time.Second; elapsed += 10 * time.Second {
		clk.Advance(10 * time.Second)
		sess, err = mgr.Ensure(ctx, sess.Token)
		require.NoError(t, err)
		require.Equal(t, original, sess.Token, "rotated early at %v", elapsed)
	}

	clk.Advance(10 * time.Second)
	rotated, err := mgr.Ensure(ctx, sess.Token)
	require.NoError(t, err)

	assert.NotEqual(t, original, rotated.Token)
	assert.Equal(t, sess.ID, rotated.ID)
	assert.Equal(t, "u-42", rotated.GetString("user_id"))
	assert.Equal(t, clk.Now(), rotated.RotatedAt)

	// The old token no longer names the session.
	stale, err := mgr.Ensure(ctx, original)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, stale.ID)
	assert.Empty(t, stale.Attributes)

	// The new token does.
	again, err := mgr.Ensure(ctx, rotated.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, again.ID)
}

func TestManager_IdleTimeout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("session survives exactly the timeout", func(t *testing.T) {
		t.Parallel()

		mgr, _, clk := newManager(t)
		sess, err := mgr.Ensure(ctx, "")
		require.NoError(t, err)

		clk.Advance(time.Hour)
		touched, err := mgr.Touch(ctx, sess)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, touched.ID)
	})

	t.Run("idle session is replaced", func(t *testing.T) {
		t.Parallel()

		var expired atomic.Int32
		mgr, store, clk := newManager(t, session.WithHooks(session.Hooks{
			OnExpire: func(context.Context, session.Session) { expired.Add(1) },
		}))
		sess, err := mgr.Ensure(ctx, "")
		require.NoError(t, err)
		sess, err = mgr.Set(ctx, sess, "role", "admin")
		require.NoError(t, err)

		clk.Advance(3601 * time.Second)
		fresh, err := mgr.Ensure(ctx, sess.Token)
		require.NoError(t, err)

		assert.NotEqual(t, sess.ID, fresh.ID)
		assert.Empty(t, fresh.Attributes)
		assert.Equal(t, 1, store.Len())
		assert.Equal(t, int32(1), expired.Load())

		_, err = store.GetByID(ctx, sess.ID)
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("touch on idle session returns fresh one", func(t *testing.T) {
		t.Parallel()

		mgr, _, clk := newManager(t)
		sess, err := mgr.Ensure(ctx, "")
		require.NoError(t, err)

		clk.Advance(2 * time.Hour)
		fresh, err := mgr.Touch(ctx, sess)
		require.NoError(t, err)
		assert.NotEqual(t, sess.ID, fresh.ID)
	})
}

func TestManager_RotateIfDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, _, clk := newManager(t)

	sess, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)

	same, err := mgr.RotateIfDue(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, sess.Token, same.Token)

	clk.Advance(31 * time.Minute)
	rotated, err := mgr.RotateIfDue(ctx, sess)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token, rotated.Token)
	assert.Equal(t, sess.ID, rotated.ID)
}

func TestManager_Regenerate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, _, _ := newManager(t)

	sess, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)
	sess, err = mgr.Set(ctx, sess, "cart", "3 items")
	require.NoError(t, err)

	regenerated, err := mgr.Regenerate(ctx, sess)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Token, regenerated.Token)
	assert.Equal(t, sess.ID, regenerated.ID)
	assert.Equal(t, "3 items", regenerated.GetString("cart"))
}

func TestManager_Destroy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var destroyed atomic.Int32
	mgr, store, _ := newManager(t, session.WithHooks(session.Hooks{
		OnDestroy: func(context.Context, session.Session) { destroyed.Add(1) },
	}))

	sess, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)
	require.NoError(t, mgr.Destroy(ctx, sess))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, int32(1), destroyed.Load())

	_, err = store.GetByToken(ctx, sess.Token)
	assert.ErrorIs(t, err, session.ErrNotFound)

	fresh, err := mgr.Ensure(ctx, sess.Token)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, fresh.ID)

	// Destroying twice is harmless.
	assert.NoError(t, mgr.Destroy(ctx, sess))
}

func TestManager_Set(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, store, _ := newManager(t)

	sess, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)

	_, err = mgr.Set(ctx, sess, "user_id", "u-1")
	require.NoError(t, err)

	stored, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	v, ok := stored.Get("user_id")
	assert.True(t, ok)
	assert.Equal(t, "u-1", v)

	// Returned copies do not alias stored state.
	stored.Attributes["user_id"] = "mutated"
	again, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "u-1", again.GetString("user_id"))

	_, err = mgr.Set(ctx, session.Session{ID: uuid.New()}, "k", "v")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestManager_CleanupExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, store, clk := newManager(t)

	_, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)
	clk.Advance(40 * time.Minute)
	live, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)
	clk.Advance(21 * time.Minute)

	n, err := mgr.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.Len())

	_, err = store.GetByID(ctx, live.ID)
	assert.NoError(t, err)
}

func TestManager_ConcurrentRotation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	var rotations atomic.Int32
	mgr, _, clk := newManager(t, session.WithHooks(session.Hooks{
		OnRotate: func(context.Context, session.Session) { rotations.Add(1) },
	}))

	sess, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)
	clk.Advance(31 * time.Minute)

	const goroutines = 50
	results := make([]session.Session, goroutines)
	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := mgr.Ensure(ctx, sess.Token)
			if assert.NoError(t, err) {
				results[i] = res
			}
		}()
	}
	wg.Wait()

	// Requests that read the old token before the rotation land on the same
	// logical session and observe the new token. Requests arriving after it
	// are rejected into fresh sessions.
	assert.Equal(t, int32(1), rotations.Load())

	var rotatedToken string
	kept := 0
	for _, res := range results {
		if res.ID != sess.ID {
			assert.NotEqual(t, sess.Token, res.Token)
			continue
		}
		kept++
		if rotatedToken == "" {
			rotatedToken = res.Token
		}
		assert.Equal(t, rotatedToken, res.Token)
	}
	assert.GreaterOrEqual(t, kept, 1)
	assert.NotEqual(t, sess.Token, rotatedToken)
}

type failingStore struct {
	session.Store
}

func (failingStore) GetByToken(context.Context, string) (session.Session, error) {
	return session.Session{}, errors.New("connection reset")
}

func TestManager_StoreFailure(t *testing.T) {
	t.Parallel()

	mgr := session.NewManager(failingStore{Store: session.NewMemoryStore()})
	_, err := mgr.Ensure(context.Background(), "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
}

func TestManager_Run(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock(time.Now())
	store := session.NewMemoryStore()
	mgr := session.NewManager(store, session.WithClock(clk), session.WithIdleTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)

	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx, 5*time.Millisecond)() }()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestMemoryStore_SaveRejectsStaleCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, store, clk := newManager(t)

	sess, err := mgr.Ensure(ctx, "")
	require.NoError(t, err)
	sess, err = mgr.Set(ctx, sess, "user_id", "u-1")
	require.NoError(t, err)

	clk.Advance(31 * time.Minute)
	rotated, err := mgr.RotateIfDue(ctx, sess)
	require.NoError(t, err)
	require.NotEqual(t, sess.Token, rotated.Token)

	assert.ErrorIs(t, store.Save(ctx, sess), session.ErrTokenChanged)
	_, err = store.GetByToken(ctx, sess.Token)
	assert.ErrorIs(t, err, session.ErrNotFound)

	// Operations holding the stale copy reload and keep the rotated token.
	updated, err := mgr.Set(ctx, sess, "theme", "dark")
	require.NoError(t, err)
	assert.Equal(t, rotated.Token, updated.Token)
	assert.Equal(t, "u-1", updated.GetString("user_id"))

	require.NoError(t, mgr.Destroy(ctx, rotated))
	assert.ErrorIs(t, store.Save(ctx, rotated), session.ErrNotFound)
	assert.Zero(t, store.Len())
}
