package reactor

import "errors"

var (
	ErrShutdown       = errors.New("reactor shut down")
	ErrRunning        = errors.New("reactor already executing")
	ErrConnectTimeout = errors.New("connect timed out")
	ErrNoResolver     = errors.New("no resolver for host name")
)
