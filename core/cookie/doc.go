// Package cookie writes HTTP cookies with secure defaults.
//
// Every cookie is HttpOnly, Secure and SameSite=Strict on Path=/ unless an
// option says otherwise. Set rejects invalid names and values larger than the
// configured maximum:
//
//	m := cookie.New(cookie.WithDomain("example.com"))
//	if err := m.Set(w, "__session", token, cookie.WithMaxAge(3600)); err != nil {
//		return err
//	}
//
// The session transport in core/session is the main consumer.
package cookie
