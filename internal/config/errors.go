package config

import "errors"

// Validation errors returned by Config.Validate. Callers match them with
// errors.Is; the wrapped message names the offending value.
var (
	ErrNoTarget        = errors.New("no target URL specified")
	ErrInvalidTarget   = errors.New("invalid target URL: scheme must be http or https")
	ErrInvalidProxy    = errors.New("invalid proxy URL: scheme must be socks, socks4 or socks4a")
	ErrInvalidRequests = errors.New("invalid request count: must be positive")
	ErrInvalidTimeout  = errors.New("invalid timeout: must be positive")
	ErrInvalidUserID   = errors.New("invalid user id: must not contain a NUL byte")
	ErrInvalidLogging  = errors.New("invalid logging settings")
)
