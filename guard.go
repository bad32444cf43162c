package guard

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/guard/core/cookie"
	"github.com/dmitrymomot/guard/core/csrf"
	"github.com/dmitrymomot/guard/core/email"
	"github.com/dmitrymomot/guard/core/health"
	"github.com/dmitrymomot/guard/core/incident"
	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/core/metrics"
	"github.com/dmitrymomot/guard/core/session"
	"github.com/dmitrymomot/guard/integration/database/pg"
	redisdb "github.com/dmitrymomot/guard/integration/database/redis"
	"github.com/dmitrymomot/guard/integration/email/postmark"
	"github.com/dmitrymomot/guard/middleware"
	"github.com/dmitrymomot/guard/pkg/clientip"
	"github.com/dmitrymomot/guard/pkg/clock"
	"github.com/dmitrymomot/guard/pkg/ratelimiter"
	"github.com/dmitrymomot/guard/pkg/secrets"
)

// AuditChannel is the log channel receiving rate limit and CSRF rejections.
const AuditChannel = "security"

// Guard owns the security components and their background workers.
type Guard struct {
	cfg   Config
	clock clock.Clock
	diag  *slog.Logger

	metrics   *metrics.Metrics
	log       *logger.Logger
	incidents *incident.Escalator
	sessions  *session.Manager
	transport *session.CookieTransport
	csrf      *csrf.Manager
	limiter   *ratelimiter.Limiter
	ips       *clientip.Resolver

	memLimits  *ratelimiter.MemoryStore
	pgLimits   *ratelimiter.PostgresStore
	failClosed map[string]bool
	checks     []health.Check
	closers    []func() error
}

// New validates cfg and assembles the components. Redis and Postgres
// connections are opened only when a store needs them. Call Close when done.
func New(ctx context.Context, cfg Config, opts ...Option) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		clock: clock.System,
		diag:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	g := &Guard{
		cfg:        cfg,
		clock:      o.clock,
		diag:       o.diag,
		failClosed: make(map[string]bool, len(cfg.RateLimit.FailClosed)),
	}
	for _, action := range cfg.RateLimit.FailClosed {
		g.failClosed[action] = true
	}

	ips, err := clientip.New(cfg.TrustedProxies...)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	g.ips = ips

	if err := g.setup(ctx, o); err != nil {
		return nil, errors.Join(err, g.Close())
	}
	return g, nil
}

func (g *Guard) setup(ctx context.Context, o options) error {
	var err error

	if g.metrics, err = metrics.New(o.registry); err != nil {
		return errors.Join(ErrDependencySetup, err)
	}

	g.log, err = logger.NewFromConfig(g.cfg.Log,
		logger.WithClock(g.clock),
		logger.WithDiagnostics(g.diag),
		logger.WithWriteHook(g.metrics.LogWriteHook()),
	)
	if err != nil {
		return errors.Join(ErrDependencySetup, err)
	}
	g.closers = append(g.closers, g.log.Close)

	alerter := o.alerter
	if alerter == nil && g.cfg.Incident.AdminEmail != "" {
		if alerter, err = g.mailAlerter(); err != nil {
			return errors.Join(ErrDependencySetup, err)
		}
	}

	escOpts := append(incident.FromConfig(g.cfg.Incident),
		incident.WithClock(g.clock),
		incident.WithLogger(g.diag),
		incident.WithHooks(g.metrics.IncidentHooks()),
	)
	g.incidents = incident.NewEscalator(
		incident.NewFileStore(filepath.Join(g.cfg.Log.Dir, "incidents")),
		alerter,
		escOpts...,
	)
	g.log.SetEscalator(g.incidents)

	var rdb redis.UniversalClient
	if g.cfg.usesRedis() {
		if rdb, err = g.redisClient(ctx, o.redis); err != nil {
			return err
		}
		g.checks = append(g.checks, redisdb.Healthcheck(rdb))
	}

	var (
		sessionStore session.Store
		csrfStore    csrf.Store
	)
	switch g.cfg.Session.Store {
	case StoreRedis:
		cipher, err := secrets.NewCipher(g.cfg.encryptionKey(), "session-store")
		if err != nil {
			return errors.Join(ErrDependencySetup, err)
		}
		sessionStore = session.NewRedisStore(rdb, g.cfg.Session.IdleTimeout, session.WithCipher(cipher))
		csrfStore = csrf.NewRedisStore(rdb)
	default:
		sessionStore = session.NewMemoryStore()
		csrfStore = csrf.NewMemoryStore()
	}

	sessOpts := append(session.FromConfig(g.cfg.Session),
		session.WithClock(g.clock),
		session.WithLogger(g.diag),
		session.WithHooks(g.metrics.SessionHooks()),
	)
	g.sessions = session.NewManager(sessionStore, sessOpts...)
	g.transport = session.NewCookieTransport(
		cookie.NewFromConfig(g.cfg.Cookie),
		g.cfg.Session.CookieName,
		g.cfg.Session.IdleTimeout,
	)

	g.csrf, err = csrf.NewManager(csrfStore, []byte(g.cfg.AppSecret),
		csrf.WithTTL(g.cfg.CSRF.TTL),
		csrf.WithClock(g.clock),
		csrf.WithLogger(g.diag),
	)
	if err != nil {
		return errors.Join(ErrDependencySetup, err)
	}

	var limitStore ratelimiter.Store
	switch g.cfg.RateLimit.Store {
	case StoreRedis:
		limitStore = ratelimiter.NewRedisStore(rdb)
	case StorePostgres:
		db, err := g.database(ctx, o.db)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx, db, g.diag); err != nil {
			return errors.Join(ErrDependencySetup, err)
		}
		g.pgLimits = ratelimiter.NewPostgresStore(db)
		g.checks = append(g.checks, db.PingContext)
		limitStore = g.pgLimits
	default:
		g.memLimits = ratelimiter.NewMemoryStore(
			ratelimiter.WithCleanupInterval(g.cfg.RateLimit.CleanupInterval),
			ratelimiter.WithMemoryStoreLogger(g.diag),
			ratelimiter.WithMemoryStoreClock(g.clock),
		)
		g.checks = append(g.checks, g.memLimits.Healthcheck)
		limitStore = g.memLimits
	}
	g.limiter = ratelimiter.New(limitStore, ratelimiter.WithClock(g.clock))

	return nil
}

func (g *Guard) mailAlerter() (incident.Alerter, error) {
	var sender email.EmailSender
	if g.cfg.Postmark.PostmarkServerToken != "" {
		client, err := postmark.New(g.cfg.Postmark)
		if err != nil {
			return nil, err
		}
		sender = client
	} else {
		sender = email.NewDevSender(g.cfg.MailDir, email.WithDevSenderClock(g.clock))
		g.diag.Warn("postmark is not configured, alerts are written to disk", "dir", g.cfg.MailDir)
	}
	return incident.NewEmailAlerter(sender, g.cfg.Incident.AdminEmail)
}

func (g *Guard) redisClient(ctx context.Context, shared redis.UniversalClient) (redis.UniversalClient, error) {
	if shared != nil {
		return shared, nil
	}
	client, err := redisdb.Connect(ctx, g.cfg.Redis)
	if err != nil {
		return nil, errors.Join(ErrDependencySetup, err)
	}
	g.closers = append(g.closers, client.Close)
	return client, nil
}

func (g *Guard) database(ctx context.Context, shared *sql.DB) (*sql.DB, error) {
	if shared != nil {
		return shared, nil
	}
	pool, err := pg.Connect(ctx, g.cfg.Postgres)
	if err != nil {
		return nil, errors.Join(ErrDependencySetup, err)
	}
	db := pg.DB(pool)
	g.closers = append(g.closers, func() error {
		pool.Close()
		return nil
	}, db.Close)
	return db, nil
}

// Route binds a request pattern, in http.ServeMux syntax, to a rate limited
// action.
type Route struct {
	Pattern string
	Action  string
	Limit   ratelimiter.Limit
}

// Handler wraps next with the request pipeline: request ID, metadata,
// metrics, access log, security headers, session, rate limiting for routes
// and CSRF. Limits are applied before the CSRF check, so a rejected request
// never spends the client's token and failed CSRF attempts still count.
// Handler panics on an invalid or duplicate route pattern.
func (g *Guard) Handler(next http.Handler, routes ...Route) http.Handler {
	return middleware.Chain(next,
		middleware.RequestID(),
		middleware.MetadataWithConfig(middleware.MetadataConfig{Resolver: g.ips}),
		g.metrics.Instrument,
		middleware.AccessLog(middleware.AccessLogConfig{Logger: g.log}),
		middleware.SecurityHeaders(),
		middleware.Session(middleware.SessionConfig{
			Manager:   g.sessions,
			Transport: g.transport,
			Logger:    g.diag,
		}),
		g.routeLimits(routes),
		middleware.CSRF(middleware.CSRFConfig{
			Manager:    g.csrf,
			HeaderName: g.cfg.CSRF.HeaderName,
			FormField:  g.cfg.CSRF.FormField,
			OnIssue:    g.metrics.CSRFIssued,
			OnValidate: g.metrics.CSRFValidated,
			AuditLog:   g.log.Channel(AuditChannel),
			Logger:     g.diag,
		}),
	)
}

// routeLimits matches each request against routes and runs the matching
// route's limiter before the rest of the chain.
func (g *Guard) routeLimits(routes []Route) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		if len(routes) == 0 {
			return next
		}

		matcher := http.NewServeMux()
		limited := make(map[string]http.Handler, len(routes))
		for _, rt := range routes {
			matcher.Handle(rt.Pattern, next)
			limited[rt.Pattern] = g.Protect(rt.Action, rt.Limit)(next)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, pattern := matcher.Handler(r); pattern != "" {
				if h, ok := limited[pattern]; ok {
					h.ServeHTTP(w, r)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Protect rate limits action by client IP. Actions listed in
// RATE_LIMIT_FAIL_CLOSED reject requests while the store is unavailable.
// Wrapping a route inside Handler runs it after the CSRF check; pass a Route
// to Handler instead for state-changing endpoints.
func (g *Guard) Protect(action string, limit ratelimiter.Limit) middleware.Middleware {
	return middleware.RateLimit(middleware.RateLimitConfig{
		Limiter:    g.limiter,
		Action:     action,
		Limit:      limit,
		FailClosed: g.failClosed[action],
		SetHeaders: true,
		Observer:   g.metrics.RateLimitDecision,
		AuditLog:   g.log.Channel(AuditChannel),
		Logger:     g.diag,
	})
}

// DefaultLimit is the limit from RATE_LIMIT_MAX_REQUESTS and RATE_LIMIT_WINDOW.
func (g *Guard) DefaultLimit() ratelimiter.Limit {
	return g.cfg.RateLimit.Limit()
}

func (g *Guard) Logger() *logger.Logger              { return g.log }
func (g *Guard) Sessions() *session.Manager          { return g.sessions }
func (g *Guard) CSRF() *csrf.Manager                 { return g.csrf }
func (g *Guard) Limiter() *ratelimiter.Limiter       { return g.limiter }
func (g *Guard) Incidents() *incident.Escalator      { return g.incidents }
func (g *Guard) Metrics() *metrics.Metrics           { return g.metrics }
func (g *Guard) Transport() *session.CookieTransport { return g.transport }

// Ready answers readiness checks by checking the configured stores.
func (g *Guard) Ready() http.Handler {
	return health.Readiness(g.diag, g.checks...)
}

// Run returns a function for errgroup that runs every sweeper and the alert
// dispatcher until ctx is canceled.
func (g *Guard) Run(ctx context.Context) func() error {
	return func() error {
		eg, ctx := errgroup.WithContext(ctx)

		eg.Go(g.sessions.Run(ctx, g.cfg.Session.SweepInterval))
		eg.Go(g.csrf.Run(ctx, g.cfg.CSRF.SweepInterval))
		eg.Go(g.incidents.Run(ctx))
		if g.memLimits != nil {
			eg.Go(g.memLimits.Run(ctx))
		}
		if g.pgLimits != nil {
			eg.Go(g.prunePostgres(ctx))
		}

		return eg.Wait()
	}
}

func (g *Guard) prunePostgres(ctx context.Context) func() error {
	return func() error {
		interval := g.cfg.RateLimit.CleanupInterval
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
				n, err := g.pgLimits.DeleteBefore(ctx, g.clock.Now().Add(-g.cfg.RateLimit.Retention))
				if err != nil {
					g.diag.ErrorContext(ctx, "rate limit prune failed", logger.Error(err))
					continue
				}
				if n > 0 {
					g.diag.DebugContext(ctx, "rate limit hits pruned", "count", n)
				}
			}
		}
	}
}

// Close releases files and connections opened by New. Shared clients passed
// through options are left open.
func (g *Guard) Close() error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	g.closers = nil
	return errors.Join(errs...)
}
