package socks4

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is the root of every malformed-reply error.
	ErrProtocolViolation = errors.New("socks4: protocol violation")

	ErrBadVersion     = errors.New("socks4: bad reply version")
	ErrUnknownStatus  = errors.New("socks4: unknown reply status")
	ErrTruncatedReply = errors.New("socks4: reply is not 8 bytes")

	// ErrRejected matches every *RejectionError.
	ErrRejected = errors.New("socks4: request rejected")

	ErrUnsupportedAddress = errors.New("socks4: only IPv4 addresses and host names can be requested")
	ErrInvalidField       = errors.New("socks4: field contains a NUL byte")
)

// RejectionError reports that the proxy explicitly denied a CONNECT request.
type RejectionError struct {
	Status Status
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("socks4: %s (status %d)", e.Status, uint8(e.Status))
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

func violation(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrProtocolViolation, cause, fmt.Sprintf(format, args...))
}
