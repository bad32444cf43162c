package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/core/requestctx"
	"github.com/dmitrymomot/guard/pkg/clock"
)

const (
	// lockStripes is the number of mutexes sessions are hashed onto.
	lockStripes = 256
	// maxSaveAttempts bounds reload-and-save rounds lost to other instances.
	maxSaveAttempts = 3
)

// Hooks are optional callbacks fired after lifecycle transitions.
type Hooks struct {
	OnCreate  func(ctx context.Context, sess Session)
	OnRotate  func(ctx context.Context, sess Session)
	OnExpire  func(ctx context.Context, sess Session)
	OnDestroy func(ctx context.Context, sess Session)
}

// Manager handles session lifecycle: creation, activity tracking, token
// rotation, idle expiry and destruction. Operations on the same session are
// serialized so timeout and rotation decisions never act on a stale
// last-activity value.
type Manager struct {
	store            Store
	idleTimeout      time.Duration
	rotationInterval time.Duration
	clock            clock.Clock
	logger           *slog.Logger
	hooks            Hooks

	locks [lockStripes]sync.Mutex
}

// NewManager creates a session manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:            store,
		idleTimeout:      DefaultIdleTimeout,
		rotationInterval: DefaultRotationInterval,
		clock:            clock.System,
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IdleTimeout returns the configured inactivity limit.
func (m *Manager) IdleTimeout() time.Duration {
	return m.idleTimeout
}

// Ensure returns the live session named by token after touching it and
// rotating its token if due. Missing, malformed, unknown and expired tokens
// all yield a fresh session; only store failures are errors.
func (m *Manager) Ensure(ctx context.Context, token string) (Session, error) {
	if wellFormed(token) {
		sess, err := m.store.GetByToken(ctx, token)
		switch {
		case err == nil:
			return m.withLock(sess.ID, func() (Session, error) {
				return m.refreshLocked(ctx, sess.ID, true)
			})
		case !errors.Is(err, ErrNotFound):
			return Session{}, errors.Join(ErrStoreUnavailable, err)
		}
	}
	return m.create(ctx)
}

// Touch records activity on sess. A session idle for longer than the timeout
// is destroyed and a new empty session is returned in its place.
func (m *Manager) Touch(ctx context.Context, sess Session) (Session, error) {
	return m.withLock(sess.ID, func() (Session, error) {
		return m.refreshLocked(ctx, sess.ID, false)
	})
}

// RotateIfDue replaces the token of sess when the rotation interval has
// elapsed. Attributes and ID are preserved.
func (m *Manager) RotateIfDue(ctx context.Context, sess Session) (Session, error) {
	return m.withLock(sess.ID, func() (Session, error) {
		cur, err := m.load(ctx, sess.ID)
		if err != nil {
			return Session{}, err
		}
		if cur.IsZero() {
			return m.create(ctx)
		}
		if m.clock.Now().Sub(cur.RotatedAt) <= m.rotationInterval {
			return cur, nil
		}
		return m.rotateLocked(ctx, cur)
	})
}

// Regenerate rotates the token unconditionally. Call it after a privilege
// change such as login so a token observed before authentication is useless.
func (m *Manager) Regenerate(ctx context.Context, sess Session) (Session, error) {
	return m.withLock(sess.ID, func() (Session, error) {
		cur, err := m.load(ctx, sess.ID)
		if err != nil {
			return Session{}, err
		}
		if cur.IsZero() {
			return m.create(ctx)
		}
		cur.LastActivityAt = m.clock.Now()
		return m.rotateLocked(ctx, cur)
	})
}

// Set stores an attribute on the session and returns the updated session.
func (m *Manager) Set(ctx context.Context, sess Session, key string, value any) (Session, error) {
	return m.withLock(sess.ID, func() (Session, error) {
		for attempt := 1; ; attempt++ {
			cur, err := m.load(ctx, sess.ID)
			if err != nil {
				return Session{}, err
			}
			if cur.IsZero() {
				return Session{}, ErrNotFound
			}
			if cur.Attributes == nil {
				cur.Attributes = make(map[string]any)
			}
			cur.Attributes[key] = value

			err = m.store.Save(ctx, cur)
			if err == nil {
				return cur, nil
			}
			if !retryable(err) || attempt == maxSaveAttempts {
				return Session{}, errors.Join(ErrSaveSession, err)
			}
		}
	})
}

// Destroy terminates sess. Later lookups by its token fail.
func (m *Manager) Destroy(ctx context.Context, sess Session) error {
	_, err := m.withLock(sess.ID, func() (Session, error) {
		if err := m.store.Delete(ctx, sess.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return Session{}, errors.Join(ErrDeleteSession, err)
		}
		m.logger.DebugContext(ctx, "session destroyed", slog.String("session_id", sess.ID.String()))
		if m.hooks.OnDestroy != nil {
			m.hooks.OnDestroy(ctx, sess)
		}
		return Session{}, nil
	})
	return err
}

// CleanupExpired removes sessions idle past the timeout and returns the count.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, m.clock.Now().Add(-m.idleTimeout))
}

// Run returns an errgroup-compatible function that calls CleanupExpired
// every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) func() error {
	return func() error {
		if interval <= 0 {
			<-ctx.Done()
			return nil
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := m.CleanupExpired(ctx)
				if err != nil {
					m.logger.WarnContext(ctx, "session cleanup failed", logger.Error(err))
					continue
				}
				if n > 0 {
					m.logger.DebugContext(ctx, "expired sessions removed", slog.Int64("removed", n))
				}
			}
		}
	}
}

// refreshLocked reloads the session, applies the idle timeout, records
// activity and optionally rotates. The caller holds the session lock; a save
// that loses to another instance reloads and tries again.
func (m *Manager) refreshLocked(ctx context.Context, id uuid.UUID, rotate bool) (Session, error) {
	for attempt := 1; ; attempt++ {
		cur, err := m.load(ctx, id)
		if err != nil {
			return Session{}, err
		}
		if cur.IsZero() {
			return m.create(ctx)
		}

		now := m.clock.Now()
		if cur.IdleSince(now) > m.idleTimeout {
			if err := m.store.Delete(ctx, cur.ID); err != nil && !errors.Is(err, ErrNotFound) {
				return Session{}, errors.Join(ErrDeleteSession, err)
			}
			m.logger.DebugContext(ctx, "session expired",
				slog.String("session_id", cur.ID.String()),
				slog.Duration("idle", cur.IdleSince(now)))
			if m.hooks.OnExpire != nil {
				m.hooks.OnExpire(ctx, cur)
			}
			return m.create(ctx)
		}

		cur.LastActivityAt = now
		if rotate && now.Sub(cur.RotatedAt) > m.rotationInterval {
			return m.rotateLocked(ctx, cur)
		}

		err = m.store.Save(ctx, cur)
		if err == nil {
			return cur, nil
		}
		if !retryable(err) || attempt == maxSaveAttempts {
			return Session{}, errors.Join(ErrSaveSession, err)
		}
		m.logger.DebugContext(ctx, "session changed concurrently, reloading",
			slog.String("session_id", cur.ID.String()))
	}
}

func (m *Manager) rotateLocked(ctx context.Context, cur Session) (Session, error) {
	token, err := generateToken()
	if err != nil {
		return Session{}, err
	}

	oldToken := cur.Token
	cur.Token = token
	cur.RotatedAt = m.clock.Now()

	if err := m.store.Rotate(ctx, oldToken, cur); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Session{}, errors.Join(ErrSaveSession, err)
		}
		// Another instance rotated or destroyed it first; adopt its state.
		latest, err := m.load(ctx, cur.ID)
		if err != nil {
			return Session{}, err
		}
		if latest.IsZero() {
			return m.create(ctx)
		}
		return latest, nil
	}

	m.logger.DebugContext(ctx, "session token rotated", slog.String("session_id", cur.ID.String()))
	if m.hooks.OnRotate != nil {
		m.hooks.OnRotate(ctx, cur)
	}
	return cur, nil
}

func (m *Manager) create(ctx context.Context) (Session, error) {
	sess, err := newSession(m.clock.Now())
	if err != nil {
		return Session{}, err
	}
	if meta, ok := requestctx.FromContext(ctx); ok {
		sess.IP = meta.ClientIP
		sess.UserAgent = meta.UserAgent
	}

	if err := m.store.Create(ctx, sess); err != nil {
		return Session{}, errors.Join(ErrSaveSession, err)
	}

	m.logger.DebugContext(ctx, "session created", slog.String("session_id", sess.ID.String()))
	if m.hooks.OnCreate != nil {
		m.hooks.OnCreate(ctx, sess)
	}
	return sess, nil
}

// load returns the zero session when id is unknown.
func (m *Manager) load(ctx context.Context, id uuid.UUID) (Session, error) {
	if id == uuid.Nil {
		return Session{}, nil
	}
	sess, err := m.store.GetByID(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		return Session{}, nil
	case err != nil:
		return Session{}, errors.Join(ErrStoreUnavailable, err)
	}
	return sess, nil
}

func (m *Manager) withLock(id uuid.UUID, fn func() (Session, error)) (Session, error) {
	mu := &m.locks[id[len(id)-1]]
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func retryable(err error) bool {
	return errors.Is(err, ErrTokenChanged) || errors.Is(err, ErrNotFound)
}
