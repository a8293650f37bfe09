package tunnel

import (
	"errors"
	"fmt"

	"socks4-tunnel/internal/domain"
	"socks4-tunnel/internal/obs"
	"socks4-tunnel/internal/socks4"
)

var (
	// ErrTransport marks read/write failures and unexpected end-of-stream
	// during the handshake.
	ErrTransport = errors.New("socks4 tunnel: transport error")

	// ErrShortWrite is reported when the CONNECT request could not be
	// written in one call. Requests are small, so a partial write is taken
	// as a broken transport rather than flow control.
	ErrShortWrite = errors.New("short write of connect request")

	ErrPeerClosed = errors.New("proxy closed the connection before replying")
)

// HandshakeError is returned by Initialize for every failed handshake.
type HandshakeError struct {
	Target domain.ProxyTarget
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("socks4 handshake for %s: %v", e.Target, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func transportError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, socks4.ErrRejected):
		return obs.ResultRejected
	case errors.Is(err, socks4.ErrProtocolViolation):
		return obs.ResultViolation
	case errors.Is(err, ErrTransport):
		return obs.ResultTransport
	default:
		return obs.ResultInvalid
	}
}
