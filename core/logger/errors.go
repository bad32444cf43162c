package logger

import "errors"

var (
	ErrUnknownLevel   = errors.New("unknown log level")
	ErrInvalidChannel = errors.New("invalid log channel name")
	ErrCreateDir      = errors.New("failed to create log directory")
)
