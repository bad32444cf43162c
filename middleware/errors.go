package middleware

import "errors"

var (
	// ErrNoSession is returned by the session helpers when the Session
	// middleware did not run for the request.
	ErrNoSession = errors.New("no session in request context")
	// ErrNoCSRF is returned by CSRFToken when the CSRF middleware did not run.
	ErrNoCSRF = errors.New("csrf middleware not applied")
)
