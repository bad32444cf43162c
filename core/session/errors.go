package session

import "errors"

var (
	// ErrNotFound is returned when a session cannot be found in the store.
	ErrNotFound = errors.New("session not found")
	// ErrTokenGeneration is returned when token generation fails.
	ErrTokenGeneration = errors.New("failed to generate token")
	// ErrSaveSession is returned when saving a session to the store fails.
	ErrSaveSession = errors.New("failed to save session")
	// ErrDeleteSession is returned when deleting a session from the store fails.
	ErrDeleteSession = errors.New("failed to delete session")
	// ErrStoreUnavailable is returned when a lookup fails for reasons other than absence.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrTokenChanged is returned by Save and Rotate when the stored session
	// carries a different token than the caller's copy.
	ErrTokenChanged = errors.New("session token changed concurrently")
	// ErrCorruptSession is returned by stores when a payload cannot be decoded.
	ErrCorruptSession = errors.New("corrupt session payload")
)
