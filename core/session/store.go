package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the persistence interface for session management.
// Implementations must handle concurrent access safely and return copies,
// never shared attribute maps.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (Session, error)
	GetByToken(ctx context.Context, token string) (Session, error)
	// Create stores a new session.
	Create(ctx context.Context, sess Session) error
	// Save replaces the session stored under sess.ID. It returns ErrNotFound
	// when the session is gone and ErrTokenChanged when the stored token is
	// not sess.Token, so a stale copy never overwrites a rotation.
	Save(ctx context.Context, sess Session) error
	// Rotate atomically replaces oldToken with sess.Token and saves sess.
	// It returns ErrNotFound if oldToken no longer belongs to sess.ID.
	Rotate(ctx context.Context, oldToken string, sess Session) error
	Delete(ctx context.Context, id uuid.UUID) error
	// DeleteExpired removes sessions inactive since before cutoff and returns the count.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
