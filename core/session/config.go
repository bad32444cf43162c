package session

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/guard/pkg/clock"
)

const (
	DefaultIdleTimeout      = time.Hour
	DefaultRotationInterval = 30 * time.Minute
	DefaultCookieName       = "__session"
)

// Config holds session settings loaded from the environment.
type Config struct {
	CookieName       string        `env:"SESSION_COOKIE_NAME" envDefault:"__session"`
	IdleTimeout      time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"1h"`
	RotationInterval time.Duration `env:"SESSION_ROTATION_INTERVAL" envDefault:"30m"`
	SweepInterval    time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"10m"`
	Store            string        `env:"SESSION_STORE" envDefault:"memory"`
}

// Option is a functional option for configuring the session manager.
type Option func(*Manager)

// WithIdleTimeout sets how long a session may be inactive before it is destroyed.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithRotationInterval sets how often the session token is replaced.
func WithRotationInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.rotationInterval = d
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

// WithLogger sets the logger for lifecycle diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithHooks registers callbacks for lifecycle events.
func WithHooks(h Hooks) Option {
	return func(m *Manager) {
		m.hooks = h
	}
}

// FromConfig converts cfg into manager options.
func FromConfig(cfg Config) []Option {
	return []Option{
		WithIdleTimeout(cfg.IdleTimeout),
		WithRotationInterval(cfg.RotationInterval),
	}
}
