package ratelimiter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/guard/pkg/ratelimiter"
)

func newMockDB(t *testing.T) (*ratelimiter.PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return ratelimiter.NewPostgresStore(db), mock
}

func TestPostgresStore_Hit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	limit := ratelimiter.Limit{MaxRequests: 5, Window: 5 * time.Minute}
	key := "login:192.0.2.1"

	t.Run("admits and records under limit", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockDB(t)
		oldest := now.Add(-time.Minute)

		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(key).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM rate_limit_hits WHERE key = \$1 AND hit_at < \$2`).
			WithArgs(key, now.Add(-limit.Window)).WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectQuery(`SELECT COUNT\(\*\), MIN\(hit_at\) FROM rate_limit_hits`).WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"count", "min"}).AddRow(2, oldest))
		mock.ExpectExec(`INSERT INTO rate_limit_hits`).WithArgs(key, now).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w, err := store.Hit(ctx, key, now, limit)
		require.NoError(t, err)
		assert.True(t, w.Admitted)
		assert.Equal(t, 3, w.Count)
		assert.Equal(t, oldest, w.Oldest)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("first hit uses now as oldest", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(key).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM rate_limit_hits`).WithArgs(key, now.Add(-limit.Window)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT COUNT`).WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"count", "min"}).AddRow(0, nil))
		mock.ExpectExec(`INSERT INTO rate_limit_hits`).WithArgs(key, now).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w, err := store.Hit(ctx, key, now, limit)
		require.NoError(t, err)
		assert.True(t, w.Admitted)
		assert.Equal(t, 1, w.Count)
		assert.Equal(t, now, w.Oldest)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("denies without recording when full", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(key).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM rate_limit_hits`).WithArgs(key, now.Add(-limit.Window)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT COUNT`).WithArgs(key).
			WillReturnRows(sqlmock.NewRows([]string{"count", "min"}).AddRow(5, now.Add(-time.Minute)))
		mock.ExpectCommit()

		w, err := store.Hit(ctx, key, now, limit)
		require.NoError(t, err)
		assert.False(t, w.Admitted)
		assert.Equal(t, 5, w.Count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockDB(t)

		mock.ExpectBegin()
		mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(key).WillReturnError(errors.New("deadlock"))
		mock.ExpectRollback()

		_, err := store.Hit(ctx, key, now, limit)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lock key")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Maintenance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("reset", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockDB(t)
		mock.ExpectExec(`DELETE FROM rate_limit_hits WHERE key = \$1`).WithArgs("login:c").
			WillReturnResult(sqlmock.NewResult(0, 3))

		require.NoError(t, store.Reset(ctx, "login:c"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete before", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockDB(t)
		cutoff := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
		mock.ExpectExec(`DELETE FROM rate_limit_hits WHERE hit_at < \$1`).WithArgs(cutoff).
			WillReturnResult(sqlmock.NewResult(0, 42))

		n, err := store.DeleteBefore(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(42), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
