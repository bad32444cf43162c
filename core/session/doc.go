// Package session manages server-side sessions with periodic token rotation
// and idle expiry.
//
// A Session has a stable ID and a public Token. The token is what the client
// holds (in the cookie written by CookieTransport); it is replaced every
// rotation interval while ID and Attributes are kept. A session that sees no
// activity for the idle timeout is destroyed and replaced by a fresh one.
//
//	store := session.NewMemoryStore()
//	mgr := session.NewManager(store,
//		session.WithIdleTimeout(time.Hour),
//		session.WithRotationInterval(30*time.Minute),
//	)
//	transport := session.NewCookieTransport(cookie.New(), "__session", time.Hour)
//
//	sess, err := mgr.Ensure(ctx, transport.Token(r))
//	if err != nil {
//		// store failure
//	}
//	_ = transport.Write(w, sess)
//
// Ensure never fails for unknown, malformed or expired tokens; it returns a new
// session instead. All operations for one session are serialized by a striped
// lock inside the Manager. Stores must additionally make Rotate atomic so that
// two instances sharing a RedisStore cannot rotate the same token twice, and
// make Save conditional on the stored token so a copy read before another
// instance rotated is rejected with ErrTokenChanged; the Manager then reloads
// and applies its change to the current session.
//
// RedisStore round-trips Attributes through JSON, so numbers come back as
// float64. Use WithCipher to encrypt payloads at rest.
package session
