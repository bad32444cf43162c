package middleware

import (
	"net/http"
	"time"

	"github.com/dmitrymomot/guard/core/logger"
)

// AccessLogConfig configures the access log middleware.
type AccessLogConfig struct {
	// Skip defines a function to skip middleware execution for specific requests
	Skip func(r *http.Request) bool
	// Logger is the secure log receiving one entry per request (required)
	Logger *logger.Logger
	// SlowRequestThreshold raises the entry to WARNING when exceeded (default: 5s)
	SlowRequestThreshold time.Duration
}

// AccessLog writes one secure log entry per request with its status and
// latency. Request metadata (ID, client IP, user) is attached by the logger
// from the context. 5xx responses log at ERROR, 4xx and slow requests at
// WARNING, the rest at INFO.
func AccessLog(cfg AccessLogConfig) Middleware {
	if cfg.Logger == nil {
		panic("access log middleware: logger is required")
	}
	if cfg.SlowRequestThreshold <= 0 {
		cfg.SlowRequestThreshold = 5 * time.Second
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			duration := time.Since(start)

			level := logger.LevelInfo
			switch {
			case rw.statusCode >= 500:
				level = logger.LevelError
			case rw.statusCode >= 400 || duration > cfg.SlowRequestThreshold:
				level = logger.LevelWarning
			}

			fields := map[string]any{
				"status":      rw.statusCode,
				"bytes":       rw.written,
				"duration_ms": duration.Milliseconds(),
			}
			if r.URL.RawQuery != "" {
				fields["query"] = r.URL.RawQuery
			}
			cfg.Logger.Log(r.Context(), level, r.Method+" "+r.URL.Path, fields)
		})
	}
}

// responseWriter records the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
