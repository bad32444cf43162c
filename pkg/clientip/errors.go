package clientip

import "errors"

// ErrInvalidProxy is returned by New for an entry that is neither a CIDR
// prefix nor an IP address.
var ErrInvalidProxy = errors.New("invalid trusted proxy")
