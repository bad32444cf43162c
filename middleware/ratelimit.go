package middleware

import (
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/core/requestctx"
	"github.com/dmitrymomot/guard/pkg/ratelimiter"
)

// RateLimitConfig configures the rate limiting middleware.
type RateLimitConfig struct {
	// Skip defines a function to skip middleware execution for specific requests
	Skip func(r *http.Request) bool
	// Limiter is the rate limiting implementation to use (required)
	Limiter *ratelimiter.Limiter
	// Action names the protected operation, e.g. "login" (required)
	Action string
	// Limit is the window applied to Action
	Limit ratelimiter.Limit
	// KeyExtractor defines how to extract the rate limiting key from requests (default: client IP)
	KeyExtractor func(r *http.Request) string
	// FailClosed rejects requests when the limiter store is unavailable.
	// Leave it false for general endpoints, set it for authentication.
	FailClosed bool
	// ErrorHandler defines how to handle rate limit violations (default: 429 Too Many Requests)
	ErrorHandler func(w http.ResponseWriter, r *http.Request, result *ratelimiter.Result)
	// SetHeaders determines whether to include rate limit information in response headers
	SetHeaders bool
	// Observer is told about every decision, e.g. metrics.RateLimitDecision
	Observer func(action string, result *ratelimiter.Result, err error)
	// AuditLog records rejections and store failures in the secure log
	AuditLog *logger.Logger
	// Logger receives diagnostics
	Logger *slog.Logger
}

// RateLimit admits or rejects each request under a sliding window keyed by
// client and action. Rejections get 429 with Retry-After. Panics if no
// limiter or action is provided.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Limiter == nil {
		panic("ratelimit middleware: limiter is required")
	}
	if cfg.Action == "" {
		panic("ratelimit middleware: action is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// Default to using client IP as the rate limiting key
	if cfg.KeyExtractor == nil {
		cfg.KeyExtractor = func(r *http.Request) string {
			if meta, ok := requestctx.FromContext(r.Context()); ok && meta.ClientIP != "" {
				return meta.ClientIP
			}
			return requestctx.FromRequest(r).ClientIP
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, _ *ratelimiter.Result) {
			writeError(w, http.StatusTooManyRequests, "too many requests")
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := cfg.KeyExtractor(r)
			if key == "" {
				key = "unknown"
			}

			result, err := cfg.Limiter.Allow(ctx, key, cfg.Action, cfg.Limit)
			if cfg.Observer != nil {
				cfg.Observer(cfg.Action, result, err)
			}

			if err != nil {
				cfg.Logger.ErrorContext(ctx, "rate limit check failed",
					logger.Action(cfg.Action), logger.Error(err))
				if cfg.AuditLog != nil {
					cfg.AuditLog.Error(ctx, "rate limit store unavailable", map[string]any{
						"action":      cfg.Action,
						"fail_closed": cfg.FailClosed,
						"error":       err.Error(),
					})
				}
				if cfg.FailClosed {
					writeError(w, http.StatusServiceUnavailable, "service unavailable")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if cfg.SetHeaders {
				setRateLimitHeaders(w, result)
			}

			if !result.Allowed() {
				if cfg.AuditLog != nil {
					cfg.AuditLog.Warning(ctx, "rate limit exceeded", map[string]any{
						"action":      cfg.Action,
						"key":         key,
						"retry_after": result.RetryAfter().Seconds(),
					})
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(result)))
				cfg.ErrorHandler(w, r, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders adds the X-RateLimit-* headers.
func setRateLimitHeaders(w http.ResponseWriter, result *ratelimiter.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, result.Remaining)))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// retryAfterSeconds rounds up to whole seconds, at least one.
func retryAfterSeconds(result *ratelimiter.Result) int {
	return max(1, int(math.Ceil(result.RetryAfter().Seconds())))
}
