package middleware

import (
	"maps"
	"net/http"
)

// SecurityHeadersConfig lists response headers set on every request. Empty
// fields are omitted.
type SecurityHeadersConfig struct {
	// Skip defines a function to skip middleware execution for specific requests
	Skip func(r *http.Request) bool

	ContentTypeOptions      string
	FrameOptions            string
	StrictTransportSecurity string
	ContentSecurityPolicy   string
	ReferrerPolicy          string
	CrossOriginOpenerPolicy string
	// CacheControl keeps pages carrying session state and CSRF tokens out of shared caches.
	CacheControl string
	Custom       map[string]string

	// Development drops Strict-Transport-Security so plain-HTTP localhost keeps working.
	Development bool
}

// DefaultSecurityHeaders suits server-rendered pages with session cookies and
// CSRF-protected forms.
var DefaultSecurityHeaders = SecurityHeadersConfig{
	ContentTypeOptions:      "nosniff",
	FrameOptions:            "DENY",
	StrictTransportSecurity: "max-age=31536000; includeSubDomains",
	ContentSecurityPolicy:   "default-src 'self'; frame-ancestors 'none'; base-uri 'self'; form-action 'self'",
	ReferrerPolicy:          "strict-origin-when-cross-origin",
	CrossOriginOpenerPolicy: "same-origin",
	CacheControl:            "no-store",
}

// SecurityHeaders sets DefaultSecurityHeaders.
func SecurityHeaders() Middleware {
	return SecurityHeadersWithConfig(DefaultSecurityHeaders)
}

func SecurityHeadersWithConfig(cfg SecurityHeadersConfig) Middleware {
	if cfg.Development {
		cfg.StrictTransportSecurity = ""
	}

	headers := make(map[string]string)
	for name, value := range map[string]string{
		"X-Content-Type-Options":     cfg.ContentTypeOptions,
		"X-Frame-Options":            cfg.FrameOptions,
		"Strict-Transport-Security":  cfg.StrictTransportSecurity,
		"Content-Security-Policy":    cfg.ContentSecurityPolicy,
		"Referrer-Policy":            cfg.ReferrerPolicy,
		"Cross-Origin-Opener-Policy": cfg.CrossOriginOpenerPolicy,
		"Cache-Control":              cfg.CacheControl,
	} {
		if value != "" {
			headers[name] = value
		}
	}
	maps.Copy(headers, cfg.Custom)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip == nil || !cfg.Skip(r) {
				for name, value := range headers {
					w.Header().Set(name, value)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
