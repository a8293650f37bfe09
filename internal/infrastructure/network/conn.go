package network

import (
	"io"

	"github.com/segmentio/ksuid"
	"golang.org/x/sys/unix"

	"socks4-tunnel/internal/domain"
)

// Conn is a connected non-blocking TCP socket. It is owned by the event
// loop goroutine and must not be used from anywhere else.
type Conn struct {
	domain.TunnelSlot

	id         string
	fd         int
	route      domain.Route
	attachment any
	loop       domain.EventLoop
	status     domain.Status
	onClose    func(*Conn)
}

// NewConn wraps fd. loop may be nil for a socket that no event loop
// watches; SetEvents is then a no-op.
func NewConn(fd int, route domain.Route, attachment any, loop domain.EventLoop) *Conn {
	return &Conn{
		id:         ksuid.New().String(),
		fd:         fd,
		route:      route,
		attachment: attachment,
		loop:       loop,
	}
}

// OnClose registers fn to run once, after the socket is closed.
func (c *Conn) OnClose(fn func(*Conn)) {
	c.onClose = fn
}

func (c *Conn) ID() string            { return c.id }
func (c *Conn) Fd() int               { return c.fd }
func (c *Conn) Route() domain.Route   { return c.route }
func (c *Conn) RemoteAddr() string    { return c.route.Hop().String() }
func (c *Conn) Attachment() any       { return c.attachment }
func (c *Conn) Status() domain.Status { return c.status }

func (c *Conn) Read(p []byte) (int, error) {
	if c.status == domain.StatusClosed {
		return 0, domain.ErrClosed
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, domain.ErrWouldBlock
		case err != nil:
			return 0, err
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.status == domain.StatusClosed {
		return 0, domain.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.SendmsgN(c.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, domain.ErrWouldBlock
		case err != nil:
			return 0, err
		}
		return n, nil
	}
}

func (c *Conn) SetEvents(events domain.EventType) error {
	if c.status == domain.StatusClosed {
		return domain.ErrClosed
	}
	if c.loop == nil {
		return nil
	}
	return c.loop.Modify(c.fd, events)
}

// Close closes the socket gracefully. Closing twice is a no-op.
func (c *Conn) Close() error {
	if c.status == domain.StatusClosed {
		return nil
	}
	c.status = domain.StatusClosed

	if c.loop != nil {
		_ = c.loop.Unregister(c.fd)
	}
	err := unix.Close(c.fd)
	if c.onClose != nil {
		c.onClose(c)
	}
	return err
}

// Shutdown resets the connection instead of closing it gracefully.
func (c *Conn) Shutdown() {
	if c.status == domain.StatusClosed {
		return
	}
	_ = unix.SetsockoptLinger(c.fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
	_ = c.Close()
}

var _ domain.Session = (*Conn)(nil)
