package middleware

import (
	"net/http"

	"github.com/dmitrymomot/guard/core/requestctx"
	"github.com/dmitrymomot/guard/pkg/clientip"
)

// MetadataConfig configures the metadata middleware.
type MetadataConfig struct {
	// Resolver extracts the client IP (default: RemoteAddr only, no proxy is trusted)
	Resolver *clientip.Resolver
}

// Metadata captures client IP, method, path and user agent into the request
// context once, so downstream components never read the request directly.
// A request ID set by RequestID is preserved.
func Metadata() Middleware {
	return MetadataWithConfig(MetadataConfig{})
}

// MetadataWithConfig is Metadata with a custom client IP resolver.
func MetadataWithConfig(cfg MetadataConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := requestctx.FromRequest(r)
			if cfg.Resolver != nil {
				meta.ClientIP = cfg.Resolver.GetIP(r)
			}
			if prev, ok := requestctx.FromContext(r.Context()); ok {
				meta.RequestID = prev.RequestID
				meta.UserID = prev.UserID
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithMeta(r.Context(), meta)))
		})
	}
}
