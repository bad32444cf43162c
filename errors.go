package guard

import "errors"

var (
	ErrInvalidConfig   = errors.New("invalid guard configuration")
	ErrDependencySetup = errors.New("failed to set up guard dependency")
)
