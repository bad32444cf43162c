package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/core/requestctx"
	"github.com/dmitrymomot/guard/core/session"
)

type sessionContextKey struct{}

// sessionState is shared between the middleware and the helpers so handlers
// can regenerate or destroy the session of the current request.
type sessionState struct {
	mu        sync.Mutex
	sess      session.Session
	manager   *session.Manager
	transport *session.CookieTransport
}

// SessionConfig configures the session middleware.
type SessionConfig struct {
	// Skip defines a function to skip middleware execution for specific requests
	Skip func(r *http.Request) bool
	// Manager owns the session lifecycle (required)
	Manager *session.Manager
	// Transport reads and writes the session cookie (required)
	Transport *session.CookieTransport
	// UserIDKey names the session attribute copied into the request metadata (default: "user_id")
	UserIDKey string
	// ErrorHandler responds when the session store fails (default: 503)
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)
	// Logger receives diagnostics
	Logger *slog.Logger
}

// Session resolves the session for every request. A missing, unknown or
// expired token yields a fresh session; the cookie is rewritten whenever the
// token changes. Panics if Manager or Transport is nil.
func Session(cfg SessionConfig) Middleware {
	if cfg.Manager == nil || cfg.Transport == nil {
		panic("session middleware: manager and transport are required")
	}
	if cfg.UserIDKey == "" {
		cfg.UserIDKey = "user_id"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, _ error) {
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			presented := cfg.Transport.Token(r)

			sess, err := cfg.Manager.Ensure(ctx, presented)
			if err != nil {
				cfg.Logger.ErrorContext(ctx, "session ensure failed", logger.Error(err))
				cfg.ErrorHandler(w, r, err)
				return
			}

			if sess.Token != presented {
				if err := cfg.Transport.Write(w, sess); err != nil {
					cfg.Logger.ErrorContext(ctx, "session cookie write failed", logger.Error(err))
				}
			}

			if uid := sess.GetString(cfg.UserIDKey); uid != "" {
				ctx = requestctx.WithUserID(ctx, uid)
			}

			state := &sessionState{sess: sess, manager: cfg.Manager, transport: cfg.Transport}
			ctx = context.WithValue(ctx, sessionContextKey{}, state)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionStateFrom(ctx context.Context) (*sessionState, bool) {
	st, ok := ctx.Value(sessionContextKey{}).(*sessionState)
	return st, ok
}

// GetSession returns the session of the current request.
func GetSession(ctx context.Context) (session.Session, bool) {
	st, ok := sessionStateFrom(ctx)
	if !ok {
		return session.Session{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sess.IsZero() {
		return session.Session{}, false
	}
	return st.sess, true
}

// SetSessionValue stores an attribute on the current session.
func SetSessionValue(r *http.Request, key string, value any) (session.Session, error) {
	st, ok := sessionStateFrom(r.Context())
	if !ok {
		return session.Session{}, ErrNoSession
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, err := st.manager.Set(r.Context(), st.sess, key, value)
	if err != nil {
		return session.Session{}, err
	}
	st.sess = sess
	return sess, nil
}

// RegenerateSession rotates the token of the current session and rewrites
// the cookie. Call it on login and other privilege changes, before writing
// the response body.
func RegenerateSession(w http.ResponseWriter, r *http.Request) (session.Session, error) {
	st, ok := sessionStateFrom(r.Context())
	if !ok {
		return session.Session{}, ErrNoSession
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, err := st.manager.Regenerate(r.Context(), st.sess)
	if err != nil {
		return session.Session{}, err
	}
	if err := st.transport.Write(w, sess); err != nil {
		return session.Session{}, err
	}
	st.sess = sess
	return sess, nil
}

// DestroySession terminates the current session and clears the cookie.
func DestroySession(w http.ResponseWriter, r *http.Request) error {
	st, ok := sessionStateFrom(r.Context())
	if !ok {
		return ErrNoSession
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.manager.Destroy(r.Context(), st.sess); err != nil {
		return err
	}
	st.transport.Clear(w)
	st.sess = session.Session{}
	return nil
}
