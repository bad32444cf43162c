package csrf_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/guard/core/csrf"
	"github.com/dmitrymomot/guard/pkg/clock"
	"github.com/dmitrymomot/guard/pkg/secrets"
)

var testSecret = []byte(strings.Repeat("s", 32))

func newManager(t *testing.T) (*csrf.Manager, *csrf.MemoryStore, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	store := csrf.NewMemoryStore()
	mgr, err := csrf.NewManager(store, testSecret, csrf.WithClock(clk), csrf.WithTTL(time.Hour))
	require.NoError(t, err)
	return mgr, store, clk
}

func TestNewManager(t *testing.T) {
	t.Parallel()

	_, err := csrf.NewManager(csrf.NewMemoryStore(), []byte("short"))
	assert.ErrorIs(t, err, secrets.ErrSecretTooShort)
}

func TestManager_Issue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("token has 256 bits of entropy", func(t *testing.T) {
		t.Parallel()

		mgr, _, _ := newManager(t)
		token, err := mgr.Issue(ctx, "session-1")
		require.NoError(t, err)
		assert.Len(t, token, 43) // 32 bytes, base64url without padding
	})

	t.Run("tokens are unique", func(t *testing.T) {
		t.Parallel()

		mgr, _, _ := newManager(t)
		seen := make(map[string]struct{})
		for range 100 {
			token, err := mgr.Issue(ctx, "session-1")
			require.NoError(t, err)
			_, dup := seen[token]
			require.False(t, dup)
			seen[token] = struct{}{}
		}
	})

	t.Run("requires session", func(t *testing.T) {
		t.Parallel()

		mgr, _, _ := newManager(t)
		_, err := mgr.Issue(ctx, "")
		assert.ErrorIs(t, err, csrf.ErrEmptySessionID)
	})

	t.Run("reissue invalidates previous token", func(t *testing.T) {
		t.Parallel()

		mgr, store, _ := newManager(t)
		first, err := mgr.Issue(ctx, "session-1")
		require.NoError(t, err)
		second, err := mgr.Issue(ctx, "session-1")
		require.NoError(t, err)

		assert.Equal(t, 1, store.Len())
		assert.False(t, mgr.Validate(ctx, "session-1", first))
		assert.True(t, mgr.Validate(ctx, "session-1", second))
	})
}

func TestManager_Validate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("single use", func(t *testing.T) {
		t.Parallel()

		mgr, store, _ := newManager(t)
		token, err := mgr.Issue(ctx, "session-1")
		require.NoError(t, err)

		assert.True(t, mgr.Validate(ctx, "session-1", token))
		assert.False(t, mgr.Validate(ctx, "session-1", token))
		assert.False(t, mgr.Validate(ctx, "session-1", token))
		assert.Equal(t, 0, store.Len())
	})

	t.Run("valid at ttl boundary", func(t *testing.T) {
		t.Parallel()

		mgr, _, clk := newManager(t)
		token, err := mgr.Issue(ctx, "session-1")
		require.NoError(t, err)

		clk.Advance(time.Hour)
		assert.True(t, mgr.Validate(ctx, "session-1", token))
	})

	t.Run("expired token fails and is purged", func(t *testing.T) {
		t.Parallel()

		mgr, store, clk := newManager(t)
		token, err := mgr.Issue(ctx, "session-1")
		require.NoError(t, err)

		clk.Advance(time.Hour + time.Second)
		assert.False(t, mgr.Validate(ctx, "session-1", token))
		assert.Equal(t, 0, store.Len())
	})

	t.Run("wrong token keeps live token", func(t *testing.T) {
		t.Parallel()

		mgr, _, _ := newManager(t)
		token, err := mgr.Issue(ctx, "session-1")
		require.NoError(t, err)

		assert.False(t, mgr.Validate(ctx, "session-1", "x"+token))
		assert.False(t, mgr.Validate(ctx, "session-1", ""))
		assert.True(t, mgr.Validate(ctx, "session-1", token))
	})

	t.Run("token bound to its session", func(t *testing.T) {
		t.Parallel()

		mgr, _, _ := newManager(t)
		token, err := mgr.Issue(ctx, "session-1")
		require.NoError(t, err)
		_, err = mgr.Issue(ctx, "session-2")
		require.NoError(t, err)

		assert.False(t, mgr.Validate(ctx, "session-2", token))
		assert.False(t, mgr.Validate(ctx, "", token))
		assert.True(t, mgr.Validate(ctx, "session-1", token))
	})

	t.Run("unknown session", func(t *testing.T) {
		t.Parallel()

		mgr, _, _ := newManager(t)
		assert.False(t, mgr.Validate(ctx, "nobody", "token"))
	})

	t.Run("concurrent validations succeed once", func(t *testing.T) {
		t.Parallel()

		mgr, _, _ := newManager(t)
		token, err := mgr.Issue(ctx, "session-1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var wins atomic.Int32
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if mgr.Validate(ctx, "session-1", token) {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestManager_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, _, _ := newManager(t)

	t1, err := mgr.Issue(ctx, "S")
	require.NoError(t, err)
	assert.True(t, mgr.Validate(ctx, "S", t1))
	assert.False(t, mgr.Validate(ctx, "S", t1))

	t2, err := mgr.Issue(ctx, "S")
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)
	assert.True(t, mgr.Validate(ctx, "S", t2))
}

func TestManager_PurgeAndRevoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mgr, store, clk := newManager(t)

	_, err := mgr.Issue(ctx, "old")
	require.NoError(t, err)
	clk.Advance(30 * time.Minute)
	live, err := mgr.Issue(ctx, "fresh")
	require.NoError(t, err)
	clk.Advance(31 * time.Minute)

	n, err := mgr.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, mgr.Revoke(ctx, "fresh"))
	assert.False(t, mgr.Validate(ctx, "fresh", live))
}

func TestManager_Run(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock(time.Now())
	store := csrf.NewMemoryStore()
	mgr, err := csrf.NewManager(store, testSecret, csrf.WithClock(clk), csrf.WithTTL(time.Minute))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = mgr.Issue(ctx, "session-1")
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)

	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx, 5*time.Millisecond)() }()

	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

// issuingStore calls after once, right after the first Consume returns.
type issuingStore struct {
	csrf.Store

	once  sync.Once
	after func()
}

func (s *issuingStore) Consume(ctx context.Context, sessionID string, remove func(csrf.Record) bool) (csrf.Record, bool, error) {
	rec, removed, err := s.Store.Consume(ctx, sessionID, remove)
	s.once.Do(s.after)
	return rec, removed, err
}

func TestManager_ExpiredPurgeKeepsFreshToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewMock(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	store := &issuingStore{Store: csrf.NewMemoryStore()}
	mgr, err := csrf.NewManager(store, testSecret, csrf.WithClock(clk), csrf.WithTTL(time.Hour))
	require.NoError(t, err)

	stale, err := mgr.Issue(ctx, "S")
	require.NoError(t, err)
	clk.Advance(2 * time.Hour)

	var fresh string
	store.after = func() {
		var err error
		fresh, err = mgr.Issue(ctx, "S")
		require.NoError(t, err)
	}

	assert.False(t, mgr.Validate(ctx, "S", stale))
	require.NotEmpty(t, fresh)
	assert.True(t, mgr.Validate(ctx, "S", fresh), "a token issued during the purge must survive it")
}
