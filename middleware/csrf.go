package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dmitrymomot/guard/core/csrf"
	"github.com/dmitrymomot/guard/core/logger"
)

type csrfContextKey struct{}

// csrfIssuer hands out at most one fresh token per request.
type csrfIssuer struct {
	once  sync.Once
	token string
	err   error
	issue func() (string, error)
}

func (i *csrfIssuer) get() (string, error) {
	i.once.Do(func() {
		i.token, i.err = i.issue()
	})
	return i.token, i.err
}

// CSRFConfig configures the CSRF middleware.
type CSRFConfig struct {
	// Skip defines a function to skip middleware execution for specific requests
	Skip func(r *http.Request) bool
	// Manager issues and validates tokens (required)
	Manager *csrf.Manager
	// HeaderName carries the token on requests and the reissued token on responses (default: "X-CSRF-Token")
	HeaderName string
	// FormField carries the token in form posts (default: "csrf_token")
	FormField string
	// ErrorHandler responds to a missing or invalid token (default: 403 Forbidden)
	ErrorHandler func(w http.ResponseWriter, r *http.Request)
	// OnIssue and OnValidate observe token outcomes, e.g. for metrics
	OnIssue    func()
	OnValidate func(valid bool)
	// AuditLog records rejected tokens in the secure log
	AuditLog *logger.Logger
	// Logger receives diagnostics
	Logger *slog.Logger
}

// CSRF validates the token on state-changing requests. A valid token is
// consumed and a replacement is issued in the response header, since only the
// latest token of a session is ever live. Handlers rendering forms call
// CSRFToken to obtain a token for the current session.
//
// Must run after Session. Panics if no manager is provided.
func CSRF(cfg CSRFConfig) Middleware {
	if cfg.Manager == nil {
		panic("csrf middleware: manager is required")
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-CSRF-Token"
	}
	if cfg.FormField == "" {
		cfg.FormField = "csrf_token"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusForbidden, "invalid csrf token")
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			sess, ok := GetSession(ctx)
			if !ok {
				cfg.Logger.ErrorContext(ctx, "csrf middleware requires a session")
				cfg.ErrorHandler(w, r)
				return
			}
			sessionID := sess.ID.String()

			if !isSafeMethod(r.Method) {
				valid := cfg.Manager.Validate(ctx, sessionID, presentedCSRFToken(r, cfg))
				if cfg.OnValidate != nil {
					cfg.OnValidate(valid)
				}
				if !valid {
					if cfg.AuditLog != nil {
						cfg.AuditLog.Warning(ctx, "csrf validation failed", map[string]any{
							"session_id": sessionID,
						})
					}
					cfg.ErrorHandler(w, r)
					return
				}
			}

			issuer := &csrfIssuer{issue: func() (string, error) {
				token, err := cfg.Manager.Issue(ctx, sessionID)
				if err != nil {
					cfg.Logger.ErrorContext(ctx, "csrf token issue failed", logger.Error(err))
					return "", err
				}
				if cfg.OnIssue != nil {
					cfg.OnIssue()
				}
				w.Header().Set(cfg.HeaderName, token)
				return token, nil
			}}

			// The consumed token must be replaced before the handler writes.
			if !isSafeMethod(r.Method) {
				_, _ = issuer.get()
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, csrfContextKey{}, issuer)))
		})
	}
}

// CSRFToken returns the live CSRF token for the current request, issuing one
// on first use. The token is also set in the response header, so call it
// before writing the response.
func CSRFToken(r *http.Request) (string, error) {
	issuer, ok := r.Context().Value(csrfContextKey{}).(*csrfIssuer)
	if !ok {
		return "", ErrNoCSRF
	}
	return issuer.get()
}

func presentedCSRFToken(r *http.Request, cfg CSRFConfig) string {
	if token := r.Header.Get(cfg.HeaderName); token != "" {
		return token
	}
	return r.PostFormValue(cfg.FormField)
}
