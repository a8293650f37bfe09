package domain

import "errors"

var (
	// ErrWouldBlock is returned by non-blocking Read and Write when no
	// progress can be made until the next readiness event.
	ErrWouldBlock = errors.New("operation would block")

	// ErrClosed is returned by I/O on a session that has been closed.
	ErrClosed = errors.New("session closed")

	ErrInvalidTarget = errors.New("invalid target")
)
