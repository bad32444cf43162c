// Package middleware provides the net/http middlewares that put the security
// components in front of handlers.
//
// A typical chain, outermost first:
//
//	h := middleware.Chain(app,
//		middleware.RequestID(),
//		middleware.Metadata(),
//		middleware.AccessLog(middleware.AccessLogConfig{Logger: secureLog}),
//		middleware.SecurityHeaders(),
//		middleware.Session(middleware.SessionConfig{Manager: sessions, Transport: transport}),
//		middleware.RateLimit(middleware.RateLimitConfig{
//			Limiter:    limiter,
//			Action:     "login",
//			Limit:      ratelimiter.Limit{MaxRequests: 5, Window: 5 * time.Minute},
//			FailClosed: true,
//			SetHeaders: true,
//		}),
//		middleware.CSRF(middleware.CSRFConfig{Manager: tokens}),
//	)
//
// Session must precede CSRF. Handlers read the session with GetSession, call
// RegenerateSession after login and DestroySession on logout, and embed
// CSRFToken in forms. State-changing requests answered by the CSRF middleware
// carry the replacement token in the X-CSRF-Token response header.
package middleware
