package testutil

import (
	"bytes"
	"io"

	"socks4-tunnel/internal/domain"
)

// Session is a scripted domain.Session. Bytes handed to Feed are returned
// by Read; once drained, Read reports domain.ErrWouldBlock, or io.EOF after
// CloseInput.
type Session struct {
	domain.TunnelSlot

	RouteValue      domain.Route
	AttachmentValue any

	inbound []byte
	eof     bool

	ReadErr  error
	WriteErr error
	// WriteLimit caps the bytes accepted per Write; negative means no cap and
	// zero makes Write report domain.ErrWouldBlock.
	WriteLimit int
	Written    bytes.Buffer

	Reads          int
	Writes         int
	Closed         bool
	ShutdownCalled bool
	Events         domain.EventType
}

func NewSession(route domain.Route) *Session {
	return &Session{RouteValue: route, WriteLimit: -1}
}

func (s *Session) Feed(b ...byte) {
	s.inbound = append(s.inbound, b...)
}

func (s *Session) CloseInput() {
	s.eof = true
}

func (s *Session) Pending() int {
	return len(s.inbound)
}

func (s *Session) ID() string            { return "test" }
func (s *Session) Fd() int               { return -1 }
func (s *Session) Route() domain.Route   { return s.RouteValue }
func (s *Session) RemoteAddr() string    { return s.RouteValue.Hop().String() }
func (s *Session) Attachment() any       { return s.AttachmentValue }
func (s *Session) Status() domain.Status { return statusOf(s.Closed) }

func (s *Session) Read(p []byte) (int, error) {
	s.Reads++
	if s.Closed {
		return 0, domain.ErrClosed
	}
	if s.ReadErr != nil {
		return 0, s.ReadErr
	}
	if len(s.inbound) == 0 {
		if s.eof {
			return 0, io.EOF
		}
		return 0, domain.ErrWouldBlock
	}
	n := copy(p, s.inbound)
	s.inbound = s.inbound[n:]
	return n, nil
}

func (s *Session) Write(p []byte) (int, error) {
	s.Writes++
	if s.Closed {
		return 0, domain.ErrClosed
	}
	if s.WriteErr != nil {
		return 0, s.WriteErr
	}
	n := len(p)
	if s.WriteLimit >= 0 && n > s.WriteLimit {
		n = s.WriteLimit
	}
	if n == 0 && len(p) > 0 {
		return 0, domain.ErrWouldBlock
	}
	s.Written.Write(p[:n])
	return n, nil
}

func (s *Session) SetEvents(events domain.EventType) error {
	s.Events = events
	return nil
}

func (s *Session) Close() error {
	s.Closed = true
	return nil
}

func (s *Session) Shutdown() {
	s.ShutdownCalled = true
	s.Closed = true
}

func statusOf(closed bool) domain.Status {
	if closed {
		return domain.StatusClosed
	}
	return domain.StatusActive
}
