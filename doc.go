// Package guard is a security substrate for web applications: sessions with
// idle timeout and token rotation, single-use CSRF tokens bound to a session,
// sliding-window rate limiting, a rotating secure log with search and stats,
// and escalation of critical log entries into incidents with admin alerts.
//
// # Usage
//
//	var cfg guard.Config
//	config.MustLoad(&cfg)
//
//	g, err := guard.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer g.Close()
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("POST /login", loginHandler)
//
//	h := g.Handler(mux, guard.Route{Pattern: "POST /login", Action: "login", Limit: g.DefaultLimit()})
//
//	eg, ctx := errgroup.WithContext(ctx)
//	eg.Go(g.Run(ctx))
//	eg.Go(srv.Run(ctx, h))
//	return eg.Wait()
//
// Handler resolves the session, rate limits the given routes, validates CSRF
// tokens on unsafe methods, sets security headers and writes one access log
// entry per request. Protect limits a single handler directly, which suits
// safe-method routes such as search.
//
// Client IPs come from the connection unless TRUSTED_PROXIES names the
// proxies whose forwarding headers may be believed.
// Run drives the background sweepers and the alert dispatcher.
//
// # Stores
//
// SESSION_STORE selects memory or redis for sessions and CSRF tokens.
// RATE_LIMIT_STORE selects memory, redis or postgres for the limiter.
// Redis and Postgres connections are opened only when selected; shared
// clients can be passed with WithRedisClient and WithDB.
//
// # Packages
//
//	github.com/dmitrymomot/guard/core/session     - Session lifecycle with idle timeout and rotation
//	github.com/dmitrymomot/guard/core/csrf        - Single-use CSRF tokens bound to a session
//	github.com/dmitrymomot/guard/pkg/ratelimiter  - Sliding-window limiter with memory, Redis and Postgres stores
//	github.com/dmitrymomot/guard/core/logger      - Rotating JSON-lines secure log with search and stats
//	github.com/dmitrymomot/guard/core/incident    - Incident records and throttled admin alerts
//	github.com/dmitrymomot/guard/core/metrics     - Prometheus collectors for security outcomes
//	github.com/dmitrymomot/guard/core/cookie      - Cookie manager with secure defaults
//	github.com/dmitrymomot/guard/core/config      - Environment configuration loading
//	github.com/dmitrymomot/guard/core/email       - Email sending interface and development sender
//	github.com/dmitrymomot/guard/core/health      - Liveness and readiness handlers
//	github.com/dmitrymomot/guard/core/requestctx  - Request metadata in context
//	github.com/dmitrymomot/guard/core/server      - HTTP server with graceful shutdown
//	github.com/dmitrymomot/guard/middleware       - net/http middleware wiring the components
//	github.com/dmitrymomot/guard/pkg/clientip     - Client IP extraction
//	github.com/dmitrymomot/guard/pkg/clock        - Time source abstraction
//	github.com/dmitrymomot/guard/pkg/secrets      - HKDF key derivation and AES-256-GCM
//	github.com/dmitrymomot/guard/integration/database/pg    - PostgreSQL pool and migrations
//	github.com/dmitrymomot/guard/integration/database/redis - Redis client setup
//	github.com/dmitrymomot/guard/integration/email/postmark - Postmark delivery for alerts
package guard
