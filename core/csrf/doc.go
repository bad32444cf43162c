// Package csrf issues and validates single-use anti-forgery tokens.
//
// Each session has at most one live token. Issue replaces the previous token,
// and a successful Validate consumes it, so the caller issues a fresh token for
// the next form:
//
//	token, err := mgr.Issue(ctx, sessionID)
//	// render token into the form
//
//	if !mgr.Validate(ctx, sessionID, r.FormValue("csrf_token")) {
//		http.Error(w, "forbidden", http.StatusForbidden)
//		return
//	}
//	next, err := mgr.Issue(ctx, sessionID)
//
// Stores keep only an HMAC-SHA256 of the token bound to the session, keyed by a
// secret derived from the application secret. Comparison is constant time.
// Validate returns false for unknown, mismatched, expired or already used
// tokens and never returns an error; store failures are logged.
//
// MemoryStore serves single-instance deployments. RedisStore shares tokens
// across instances and consumes them with WATCH/MULTI so two concurrent
// validations of one token cannot both succeed.
package csrf
