// Package requestctx carries per-request metadata through context.Context.
//
// The security components never read ambient request state. Middleware captures the
// request once with FromRequest and stores it with WithMeta; the logger, rate limiter
// and session layer read it back with FromContext.
package requestctx

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrymomot/guard/pkg/clientip"
)

type metaKey struct{}

// Meta describes the request that triggered an operation.
type Meta struct {
	RequestID string
	ClientIP  string
	Method    string
	Path      string
	UserAgent string
	// UserID is set once the session is bound to an authenticated user.
	UserID string
}

// FromRequest captures metadata from r. RequestID is left for the caller to fill.
// ClientIP is the peer address; forwarding headers are not trusted here.
func FromRequest(r *http.Request) Meta {
	return Meta{
		ClientIP:  clientip.GetIP(r),
		Method:    r.Method,
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
	}
}

// WithMeta returns a copy of ctx carrying m.
func WithMeta(ctx context.Context, m Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// FromContext returns the metadata stored in ctx.
func FromContext(ctx context.Context) (Meta, bool) {
	if ctx == nil {
		return Meta{}, false
	}
	m, ok := ctx.Value(metaKey{}).(Meta)
	return m, ok
}

// WithRequestID sets the request ID on the metadata in ctx, creating it if absent.
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	m, _ := FromContext(ctx)
	m.RequestID = id
	return WithMeta(ctx, m)
}

// WithUserID sets the authenticated user ID on the metadata in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	m, _ := FromContext(ctx)
	m.UserID = userID
	return WithMeta(ctx, m)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	m, _ := FromContext(ctx)
	return m.RequestID
}
