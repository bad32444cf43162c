package csrf

import (
	"context"
	"time"
)

// Record is the stored form of an issued token. The raw token is never kept;
// Hash is an HMAC of the token bound to the session.
type Record struct {
	SessionID string    `json:"session_id"`
	Hash      []byte    `json:"hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store persists at most one live record per session.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put stores rec, replacing any record previously issued to the same session.
	Put(ctx context.Context, rec Record) error
	// Consume loads the session's record and deletes it if remove reports true,
	// as one atomic step. It returns the examined record and whether it was
	// deleted, or ErrNotFound.
	Consume(ctx context.Context, sessionID string, remove func(Record) bool) (Record, bool, error)
	// Delete removes the session's record. Missing records are not an error.
	Delete(ctx context.Context, sessionID string) error
	// DeleteExpired removes records expired at now and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
