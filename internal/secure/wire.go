package secure

import (
	"errors"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"socks4-tunnel/internal/domain"
)

// errWouldBlock is returned to crypto/tls when no record bytes are
// available. It is temporary, so tls keeps the partial record and the
// connection stays usable.
type errWouldBlock struct{}

func (errWouldBlock) Error() string        { return domain.ErrWouldBlock.Error() }
func (errWouldBlock) Timeout() bool        { return false }
func (errWouldBlock) Temporary() bool      { return true }
func (errWouldBlock) Is(target error) bool { return target == domain.ErrWouldBlock }

type timeoutError struct{ op string }

func (e timeoutError) Error() string        { return "secure: " + e.op + " timed out" }
func (e timeoutError) Timeout() bool        { return true }
func (e timeoutError) Temporary() bool      { return true }
func (e timeoutError) Is(target error) bool { return target == os.ErrDeadlineExceeded }

type addr string

func (a addr) Network() string { return "tcp" }
func (a addr) String() string  { return string(a) }

// wire adapts a non-blocking Session to the net.Conn crypto/tls expects.
// During the handshake reads and writes wait for the socket, bounded by
// deadline. Afterwards reads return errWouldBlock and writes wait until the
// whole buffer is accepted or writeTimeout passes.
type wire struct {
	s            domain.Session
	timeout      time.Duration
	writeTimeout time.Duration
	handshaking  bool
	deadline     time.Time
}

func (w *wire) Read(p []byte) (int, error) {
	for {
		n, err := w.s.Read(p)
		if !errors.Is(err, domain.ErrWouldBlock) {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
		if !w.handshaking {
			return 0, errWouldBlock{}
		}
		if err := w.wait(unix.POLLIN, w.deadline, "handshake read"); err != nil {
			return 0, err
		}
	}
}

func (w *wire) Write(p []byte) (int, error) {
	deadline := w.deadline
	if !w.handshaking {
		deadline = time.Now().Add(w.writeTimeout)
	}

	written := 0
	for written < len(p) {
		n, err := w.s.Write(p[written:])
		written += n
		switch {
		case err == nil && n > 0:
			continue
		case err == nil, errors.Is(err, domain.ErrWouldBlock):
			if err := w.wait(unix.POLLOUT, deadline, "write"); err != nil {
				return written, err
			}
		default:
			return written, err
		}
	}
	return written, nil
}

func (w *wire) wait(events int16, deadline time.Time, op string) error {
	fd := w.s.Fd()
	if fd < 0 {
		return timeoutError{op: op}
	}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutError{op: op}
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: events}}
		n, err := unix.Poll(pfd, int(remaining.Milliseconds())+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}
}

func (w *wire) Close() error                       { return w.s.Close() }
func (w *wire) LocalAddr() net.Addr                { return addr("") }
func (w *wire) RemoteAddr() net.Addr               { return addr(w.s.RemoteAddr()) }
func (w *wire) SetDeadline(t time.Time) error      { return nil }
func (w *wire) SetReadDeadline(t time.Time) error  { return nil }
func (w *wire) SetWriteDeadline(t time.Time) error { return nil }
