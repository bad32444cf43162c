package csrf

import "errors"

var (
	// ErrNotFound is returned by stores when no token is live for a session.
	ErrNotFound = errors.New("csrf token not found")
	// ErrEmptySessionID is returned when issuing a token without a session.
	ErrEmptySessionID = errors.New("session id is required")
	// ErrTokenGeneration is returned when the random source fails.
	ErrTokenGeneration = errors.New("failed to generate csrf token")
	// ErrStoreUnavailable wraps store failures.
	ErrStoreUnavailable = errors.New("csrf store unavailable")
)
