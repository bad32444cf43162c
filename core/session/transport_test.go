package session_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/guard/core/cookie"
	"github.com/dmitrymomot/guard/core/session"
)

func TestCookieTransport(t *testing.T) {
	t.Parallel()

	transport := session.NewCookieTransport(cookie.New(), "", time.Hour)
	assert.Equal(t, "__session", transport.Name())

	w := httptest.NewRecorder()
	require.NoError(t, transport.Write(w, session.Session{Token: "tok-123"}))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "__session", c.Name)
	assert.Equal(t, "tok-123", c.Value)
	assert.Equal(t, 3600, c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, transport.Token(r))
	r.AddCookie(c)
	assert.Equal(t, "tok-123", transport.Token(r))

	w = httptest.NewRecorder()
	transport.Clear(w)
	assert.Equal(t, -1, w.Result().Cookies()[0].MaxAge)
}
