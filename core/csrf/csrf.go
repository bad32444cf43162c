package csrf

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/pkg/clock"
	"github.com/dmitrymomot/guard/pkg/secrets"
)

// tokenBytes is the entropy of an issued token (256 bits).
const tokenBytes = 32

// Manager issues and validates single-use tokens bound to sessions.
type Manager struct {
	store  Store
	key    []byte
	ttl    time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets how long an issued token stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the logger for store failures.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a Manager. The HMAC key is derived from secret, which must
// be at least secrets.MinSecretLength bytes.
func NewManager(store Store, secret []byte, opts ...Option) (*Manager, error) {
	key, err := secrets.DeriveKey(secret, "csrf-token")
	if err != nil {
		return nil, err
	}

	m := &Manager{
		store:  store,
		key:    key,
		ttl:    DefaultTTL,
		clock:  clock.System,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue generates a token for sessionID. Any token previously issued to the
// session stops validating.
func (m *Manager) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySessionID
	}

	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrTokenGeneration, err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	now := m.clock.Now()
	rec := Record{
		SessionID: sessionID,
		Hash:      m.sum(sessionID, token),
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return "", errors.Join(ErrStoreUnavailable, err)
	}
	return token, nil
}

// Validate reports whether token is the live token of sessionID. A successful
// validation consumes the token; callers issue a new one for the next form.
// Expired records are purged on the way.
func (m *Manager) Validate(ctx context.Context, sessionID, token string) bool {
	if sessionID == "" || token == "" {
		return false
	}

	sum := m.sum(sessionID, token)
	now := m.clock.Now()

	var valid bool
	_, removed, err := m.store.Consume(ctx, sessionID, func(r Record) bool {
		// Compare first so timing does not depend on expiry.
		match := hmac.Equal(r.Hash, sum)
		expired := r.Expired(now)
		valid = match && !expired
		return valid || expired
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.ErrorContext(ctx, "csrf token lookup failed", logger.Error(err))
		}
		return false
	}
	return valid && removed
}

// Revoke drops the live token of sessionID, for example on logout.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}

// Purge removes every expired record and returns how many were removed.
func (m *Manager) Purge(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.clock.Now())
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return n, nil
}

// Run returns an errgroup-compatible function that purges expired records
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
				n, err := m.Purge(ctx)
				if err != nil {
					m.logger.WarnContext(ctx, "csrf purge failed", logger.Error(err))
					continue
				}
				if n > 0 {
					m.logger.DebugContext(ctx, "csrf purge removed expired tokens", slog.Int64("removed", n))
				}
			}
		}
	}
}

// sum binds the token to the session so a record can never validate a token
// issued to another session.
func (m *Manager) sum(sessionID, token string) []byte {
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(sessionID))
	mac.Write([]byte{0})
	mac.Write([]byte(token))
	return mac.Sum(nil)
}
