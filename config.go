package guard

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrymomot/guard/core/cookie"
	"github.com/dmitrymomot/guard/core/csrf"
	"github.com/dmitrymomot/guard/core/incident"
	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/core/session"
	"github.com/dmitrymomot/guard/integration/database/pg"
	redisdb "github.com/dmitrymomot/guard/integration/database/redis"
	"github.com/dmitrymomot/guard/integration/email/postmark"
	"github.com/dmitrymomot/guard/pkg/clientip"
	"github.com/dmitrymomot/guard/pkg/ratelimiter"
	"github.com/dmitrymomot/guard/pkg/secrets"
)

// Store backends selectable through SESSION_STORE and RATE_LIMIT_STORE.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config aggregates every component's settings. Load it with config.Load.
type Config struct {
	// AppSecret is the master secret for CSRF keys. At least 32 bytes.
	AppSecret string `env:"APP_SECRET,required"`
	// EncryptionKey seals session data in shared stores. Falls back to AppSecret.
	EncryptionKey string `env:"APP_ENCRYPTION_KEY"`
	// MailDir receives alert mails when Postmark is not configured.
	MailDir string `env:"MAIL_DIR" envDefault:"mail"`
	// TrustedProxies lists proxy CIDRs or addresses whose forwarding headers
	// name the client. Empty means the peer address is the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	Cookie    cookie.Config
	Session   session.Config
	CSRF      csrf.Config
	Log       logger.Config
	Incident  incident.Config
	RateLimit RateLimitConfig
	Redis     redisdb.Config
	Postgres  pg.Config
	Postmark  postmark.Config
}

// RateLimitConfig holds the default limit and the limiter backend.
type RateLimitConfig struct {
	MaxRequests     int           `env:"RATE_LIMIT_MAX_REQUESTS" envDefault:"5"`
	Window          time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"5m"`
	Store           string        `env:"RATE_LIMIT_STORE" envDefault:"memory"`
	CleanupInterval time.Duration `env:"RATE_LIMIT_CLEANUP_INTERVAL" envDefault:"1m"`
	// Retention bounds how long the postgres store keeps hits. Must cover the longest window.
	Retention time.Duration `env:"RATE_LIMIT_RETENTION" envDefault:"24h"`
	// FailClosed lists actions rejected while the store is unavailable.
	FailClosed []string `env:"RATE_LIMIT_FAIL_CLOSED" envDefault:"login" envSeparator:","`
}

// Limit returns the configured default limit.
func (c RateLimitConfig) Limit() ratelimiter.Limit {
	return ratelimiter.Limit{MaxRequests: c.MaxRequests, Window: c.Window}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if len(c.AppSecret) < secrets.MinSecretLength {
		errs = append(errs, fmt.Errorf("APP_SECRET must be at least %d bytes", secrets.MinSecretLength))
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) < secrets.MinSecretLength {
		errs = append(errs, fmt.Errorf("APP_ENCRYPTION_KEY must be at least %d bytes", secrets.MinSecretLength))
	}
	if !slices.Contains([]string{StoreMemory, StoreRedis}, c.Session.Store) {
		errs = append(errs, fmt.Errorf("SESSION_STORE %q: want memory or redis", c.Session.Store))
	}
	if !slices.Contains([]string{StoreMemory, StoreRedis, StorePostgres}, c.RateLimit.Store) {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_STORE %q: want memory, redis or postgres", c.RateLimit.Store))
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MAX_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}
	if c.RateLimit.Store == StorePostgres && c.RateLimit.Retention < c.RateLimit.Window {
		errs = append(errs, errors.New("RATE_LIMIT_RETENTION must not be shorter than RATE_LIMIT_WINDOW"))
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_IDLE_TIMEOUT must be positive"))
	}
	if c.Log.Dir == "" {
		errs = append(errs, errors.New("LOG_DIR is required"))
	}
	if _, err := clientip.New(c.TrustedProxies...); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

func (c Config) encryptionKey() []byte {
	if c.EncryptionKey != "" {
		return []byte(c.EncryptionKey)
	}
	return []byte(c.AppSecret)
}

func (c Config) usesRedis() bool {
	return c.Session.Store == StoreRedis || c.RateLimit.Store == StoreRedis
}
