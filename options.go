package guard

import (
	"database/sql"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/guard/core/incident"
	"github.com/dmitrymomot/guard/pkg/clock"
)

type options struct {
	clock    clock.Clock
	registry *prometheus.Registry
	redis    redis.UniversalClient
	db       *sql.DB
	alerter  incident.Alerter
	diag     *slog.Logger
}

// Option customizes how New assembles the components.
type Option func(*options)

// WithClock sets the time source shared by every component.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithRegistry registers the metrics with reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithRedisClient reuses client for redis-backed stores. The caller keeps ownership.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = client
	}
}

// WithDB reuses db for the postgres rate-limit store. The caller keeps ownership.
func WithDB(db *sql.DB) Option {
	return func(o *options) {
		o.db = db
	}
}

// WithAlerter replaces the mail alerter built from configuration.
func WithAlerter(a incident.Alerter) Option {
	return func(o *options) {
		o.alerter = a
	}
}

// WithDiagnostics sets the slog logger for operational diagnostics.
func WithDiagnostics(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.diag = l
		}
	}
}
