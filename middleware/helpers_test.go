package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/guard/core/cookie"
	"github.com/dmitrymomot/guard/core/csrf"
	"github.com/dmitrymomot/guard/core/session"
	"github.com/dmitrymomot/guard/middleware"
	"github.com/dmitrymomot/guard/pkg/clock"
)

var start = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	clk       *clock.Mock
	sessions  *session.Manager
	transport *session.CookieTransport
	tokens    *csrf.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewMock(start)
	sessions := session.NewManager(session.NewMemoryStore(), session.WithClock(clk))
	tokens, err := csrf.NewManager(csrf.NewMemoryStore(), []byte("0123456789abcdef0123456789abcdef"), csrf.WithClock(clk))
	require.NoError(t, err)
	return &harness{
		clk:       clk,
		sessions:  sessions,
		transport: session.NewCookieTransport(cookie.New(), "", sessions.IdleTimeout()),
		tokens:    tokens,
	}
}

func (h *harness) sessionMiddleware() middleware.Middleware {
	return middleware.Session(middleware.SessionConfig{Manager: h.sessions, Transport: h.transport})
}

// client replays the session cookie across requests like a browser.
type client struct {
	handler http.Handler
	cookie  *http.Cookie
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name != session.DefaultCookieName {
			continue
		}
		if ck.MaxAge < 0 {
			c.cookie = nil
		} else {
			c.cookie = ck
		}
	}
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
