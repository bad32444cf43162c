package session

import (
	"net/http"
	"time"

	"github.com/dmitrymomot/guard/core/cookie"
)

// CookieTransport carries the session token in a cookie. The cookie value is
// the token only; everything else stays server side.
type CookieTransport struct {
	cookies *cookie.Manager
	name    string
	maxAge  int
}

// NewCookieTransport creates a transport writing cookie name with MaxAge equal
// to idleTimeout. Security attributes come from cookies (HttpOnly, Secure and
// SameSite=Strict by default).
func NewCookieTransport(cookies *cookie.Manager, name string, idleTimeout time.Duration) *CookieTransport {
	if name == "" {
		name = DefaultCookieName
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &CookieTransport{
		cookies: cookies,
		name:    name,
		maxAge:  int(idleTimeout / time.Second),
	}
}

// Name returns the cookie name.
func (t *CookieTransport) Name() string {
	return t.name
}

// Token returns the token presented by the client, or "" when absent.
func (t *CookieTransport) Token(r *http.Request) string {
	token, err := t.cookies.Get(r, t.name)
	if err != nil {
		return ""
	}
	return token
}

// Write sets the session cookie for sess.
func (t *CookieTransport) Write(w http.ResponseWriter, sess Session) error {
	return t.cookies.Set(w, t.name, sess.Token, cookie.WithMaxAge(t.maxAge))
}

// Clear expires the session cookie.
func (t *CookieTransport) Clear(w http.ResponseWriter) {
	t.cookies.Delete(w, t.name)
}
