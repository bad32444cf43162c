package ratelimiter

import "errors"

// Package-level error definitions for rate limiter operations.
var (
	ErrInvalidLimit      = errors.New("invalid rate limit")
	ErrEmptyKey          = errors.New("rate limit identifier and action are required")
	ErrStoreUnavailable  = errors.New("rate limit store unavailable")
	ErrAlreadyStarted    = errors.New("memory store already started")
	ErrNotStarted        = errors.New("memory store not started")
	ErrCleanupDisabled   = errors.New("cleanup interval must be > 0")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
