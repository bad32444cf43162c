package ratelimiter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Queries against the rate_limit_hits table created by integration/database/pg migrations.
const (
	pgLockKey      = `SELECT pg_advisory_xact_lock(hashtext($1))`
	pgPrune        = `DELETE FROM rate_limit_hits WHERE key = $1 AND hit_at < $2`
	pgCountOldest  = `SELECT COUNT(*), MIN(hit_at) FROM rate_limit_hits WHERE key = $1`
	pgInsertHit    = `INSERT INTO rate_limit_hits (key, hit_at) VALUES ($1, $2)`
	pgResetKey     = `DELETE FROM rate_limit_hits WHERE key = $1`
	pgDeleteBefore = `DELETE FROM rate_limit_hits WHERE hit_at < $1`
)

// PostgresStore implements Store on a relational table through database/sql.
// Open the *sql.DB with the pgx stdlib driver (see integration/database/pg).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Hit serializes callers for key with a transaction-scoped advisory lock, then
// prunes, counts and conditionally inserts.
func (s *PostgresStore) Hit(ctx context.Context, key string, now time.Time, limit Limit) (w Window, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Window{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	if _, err = tx.ExecContext(ctx, pgLockKey, key); err != nil {
		return Window{}, fmt.Errorf("lock key: %w", err)
	}

	if _, err = tx.ExecContext(ctx, pgPrune, key, now.Add(-limit.Window)); err != nil {
		return Window{}, fmt.Errorf("prune window: %w", err)
	}

	var oldest sql.NullTime
	if err = tx.QueryRowContext(ctx, pgCountOldest, key).Scan(&w.Count, &oldest); err != nil {
		return Window{}, fmt.Errorf("count window: %w", err)
	}

	if w.Count < limit.MaxRequests {
		if _, err = tx.ExecContext(ctx, pgInsertHit, key, now); err != nil {
			return Window{}, fmt.Errorf("record hit: %w", err)
		}
		w.Count++
		w.Admitted = true
		if !oldest.Valid {
			oldest = sql.NullTime{Time: now, Valid: true}
		}
	}
	if oldest.Valid {
		w.Oldest = oldest.Time.UTC()
	}

	if err = tx.Commit(); err != nil {
		return Window{}, fmt.Errorf("commit: %w", err)
	}
	return w, nil
}

// Reset deletes all hits for key.
func (s *PostgresStore) Reset(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, pgResetKey, key); err != nil {
		return fmt.Errorf("reset key: %w", err)
	}
	return nil
}

// DeleteBefore removes hits older than cutoff across all keys and returns the count.
// Run it periodically (for example hourly) to bound table size for idle clients.
func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, pgDeleteBefore, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale hits: %w", err)
	}
	return res.RowsAffected()
}
