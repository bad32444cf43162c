package incident

import "errors"

var (
	ErrNotFound       = errors.New("incident not found")
	ErrInvalidID      = errors.New("invalid incident id")
	ErrSaveIncident   = errors.New("failed to save incident")
	ErrAlertDropped   = errors.New("incident alert dropped")
	ErrAlreadyStarted = errors.New("alert dispatcher already started")
	ErrNotStarted     = errors.New("alert dispatcher not started")
	ErrInvalidAlerter = errors.New("invalid alerter configuration")
)
