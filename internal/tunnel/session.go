package tunnel

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"socks4-tunnel/internal/domain"
	"socks4-tunnel/internal/obs"
	"socks4-tunnel/internal/socks4"
)

type State int

const (
	StateIdle          State = iota // nothing sent yet
	StateRequestSent                // CONNECT being written
	StateAwaitingReply              // collecting the 8-byte reply
	StateReady                      // tunnel established
	StateFailed                     // handshake failed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestSent:
		return "request sent"
	case StateAwaitingReply:
		return "awaiting reply"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session drives a SOCKS4/4a CONNECT handshake over one non-blocking
// transport connection and then becomes that connection's transport.
// It is only touched from the reactor's dispatch goroutine.
type Session struct {
	conn   domain.Session
	target domain.ProxyTarget
	userID string
	log    *slog.Logger

	state  State
	reply  [socks4.ReplySize]byte
	filled int
	err    error
	closed bool
	sentAt time.Time
}

// New creates the tunnel for conn and attaches it to conn's tunnel slot.
func New(conn domain.Session, target domain.ProxyTarget, userID string, log *slog.Logger) *Session {
	s := &Session{
		conn:   conn,
		target: target,
		userID: userID,
		log:    log,
	}
	conn.SetTunnel(s)
	return s
}

// Initialize advances the handshake by at most one read or write and
// reports whether the tunnel is ready. It never blocks. Errors are
// *HandshakeError and are sticky.
func (s *Session) Initialize() (domain.Progress, error) {
	switch {
	case s.state == StateReady:
		return domain.Complete, nil
	case s.state == StateFailed:
		return domain.Incomplete, s.err
	case s.closed:
		return domain.Incomplete, &HandshakeError{Target: s.target, Err: transportError("initialize", domain.ErrClosed)}
	case s.state == StateIdle:
		return s.sendRequest()
	default:
		return s.receiveReply()
	}
}

func (s *Session) sendRequest() (domain.Progress, error) {
	pkt, err := socks4.EncodeRequest(s.target, s.userID)
	if err != nil {
		return domain.Incomplete, s.fail(err)
	}

	s.state = StateRequestSent
	s.log.Debug("socks connect", "fd", s.conn.Fd(), "target", s.target.String(), "socks4a", net.ParseIP(s.target.Host) == nil)

	n, err := s.conn.Write(pkt)
	if err != nil && !errors.Is(err, domain.ErrWouldBlock) {
		return domain.Incomplete, s.fail(transportError("write request", err))
	}
	if n != len(pkt) {
		return domain.Incomplete, s.fail(transportError("write request", fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(pkt))))
	}

	s.state = StateAwaitingReply
	s.sentAt = time.Now()
	return domain.Incomplete, nil
}

func (s *Session) receiveReply() (domain.Progress, error) {
	n, err := s.conn.Read(s.reply[s.filled:])
	if n > 0 {
		s.filled += n
	}

	if s.filled < socks4.ReplySize {
		switch {
		case err == nil, errors.Is(err, domain.ErrWouldBlock):
			return domain.Incomplete, nil
		case errors.Is(err, io.EOF):
			return domain.Incomplete, s.fail(transportError("read reply", fmt.Errorf("%w after %d of %d bytes", ErrPeerClosed, s.filled, socks4.ReplySize)))
		default:
			return domain.Incomplete, s.fail(transportError("read reply", err))
		}
	}

	rep, err := socks4.DecodeReply(s.reply[:])
	if err != nil {
		return domain.Incomplete, s.fail(err)
	}

	s.state = StateReady
	obs.HandshakesTotal.WithLabelValues(obs.ResultGranted).Inc()
	obs.HandshakeDurationSeconds.Observe(time.Since(s.sentAt).Seconds())
	s.log.Debug("socks connected", "fd", s.conn.Fd(), "target", s.target.String(), "dst", net.JoinHostPort(rep.IP.String(), strconv.Itoa(int(rep.Port))))
	return domain.Complete, nil
}

func (s *Session) fail(err error) error {
	s.state = StateFailed
	s.err = &HandshakeError{Target: s.target, Err: err}
	obs.HandshakesTotal.WithLabelValues(resultOf(err)).Inc()
	return s.err
}

func (s *Session) IsInitialized() bool {
	return s.state == StateReady
}

// Readiness folds the state into three values. A failed tunnel started but
// never initialized, so it reports InProgress; use State to tell them apart.
func (s *Session) Readiness() domain.Readiness {
	switch s.state {
	case StateIdle:
		return domain.NotStarted
	case StateReady:
		return domain.Initialized
	default:
		return domain.InProgress
	}
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Target() domain.ProxyTarget {
	return s.target
}

// Shutdown aborts the underlying transport. Safe in any state.
func (s *Session) Shutdown() {
	if s.closed {
		return
	}
	s.closed = true
	s.conn.Shutdown()
}

// Read passes through once the tunnel is ready. Before that the handshake
// owns the connection and callers see domain.ErrWouldBlock.
func (s *Session) Read(p []byte) (int, error) {
	if s.state != StateReady {
		return 0, domain.ErrWouldBlock
	}
	return s.conn.Read(p)
}

func (s *Session) Write(p []byte) (int, error) {
	if s.state != StateReady {
		return 0, domain.ErrWouldBlock
	}
	return s.conn.Write(p)
}

// RemoteAddr is the tunnel's target rather than the proxy, so layers
// wrapping the tunnel see the peer they are actually talking to.
func (s *Session) RemoteAddr() string { return s.target.String() }

func (s *Session) ID() string                              { return s.conn.ID() }
func (s *Session) Fd() int                                 { return s.conn.Fd() }
func (s *Session) Route() domain.Route                     { return s.conn.Route() }
func (s *Session) Attachment() any                         { return s.conn.Attachment() }
func (s *Session) SetEvents(events domain.EventType) error { return s.conn.SetEvents(events) }
func (s *Session) Close() error                            { return s.conn.Close() }
func (s *Session) Status() domain.Status                   { return s.conn.Status() }
func (s *Session) Tunnel() domain.Handshaker               { return s.conn.Tunnel() }
func (s *Session) SetTunnel(h domain.Handshaker)           { s.conn.SetTunnel(h) }

var _ domain.Session = (*Session)(nil)
var _ domain.Handshaker = (*Session)(nil)
