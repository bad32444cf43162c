package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/guard/pkg/clock"
)

// Limit is the admission policy for one action.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

func (l Limit) validate() error {
	if l.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidLimit, l.MaxRequests)
	}
	if l.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidLimit, l.Window)
	}
	return nil
}

// Window is the state of one key after a store operation.
type Window struct {
	// Count is the number of timestamps in the window after the operation.
	Count int
	// Oldest is the oldest timestamp still in the window (zero if empty).
	Oldest time.Time
	// Admitted reports whether the current request was recorded.
	Admitted bool
}

// Store persists sliding windows. Hit must perform prune, check and record as one
// atomic step per key. Implementations must be safe for concurrent use.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, limit Limit) (Window, error)
	Reset(ctx context.Context, key string) error
}

// Result describes an admission decision.
type Result struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	admitted  bool
	decidedAt time.Time
}

// Allowed reports whether the request was admitted.
func (r *Result) Allowed() bool {
	return r.admitted
}

// RetryAfter returns how long a denied client should wait before the oldest request
// leaves the window. Zero for admitted requests.
func (r *Result) RetryAfter() time.Duration {
	if r.admitted {
		return 0
	}
	return max(0, r.ResetAt.Sub(r.decidedAt))
}

// Limiter applies sliding-window limits over a Store.
type Limiter struct {
	store Store
	clock clock.Clock
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source used for window arithmetic.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// New creates a Limiter backed by store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		clock: clock.System,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow decides whether identifier may perform action under limit.
func (l *Limiter) Allow(ctx context.Context, identifier, action string, limit Limit) (*Result, error) {
	if err := limit.validate(); err != nil {
		return nil, err
	}
	if identifier == "" || action == "" {
		return nil, ErrEmptyKey
	}

	now := l.clock.Now()
	w, err := l.store.Hit(ctx, Key(identifier, action), now, limit)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	resetAt := now.Add(limit.Window)
	if !w.Oldest.IsZero() {
		resetAt = w.Oldest.Add(limit.Window)
	}

	return &Result{
		Limit:     limit.MaxRequests,
		Remaining: max(0, limit.MaxRequests-w.Count),
		ResetAt:   resetAt,
		admitted:  w.Admitted,
		decidedAt: now,
	}, nil
}

// Reset clears the window for identifier and action (administrative override).
func (l *Limiter) Reset(ctx context.Context, identifier, action string) error {
	if err := l.store.Reset(ctx, Key(identifier, action)); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Key builds the storage key for identifier and action.
func Key(identifier, action string) string {
	return action + ":" + identifier
}
