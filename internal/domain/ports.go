package domain

import (
	"net"
	"time"
)

type EventType uint32

const (
	EventRead   EventType = 0x1
	EventWrite  EventType = 0x4  // EPOLLOUT
	EventError  EventType = 0x8  // EPOLLERR
	EventHangup EventType = 0x10 // EPOLLHUP
)

type EventHandler interface {
	HandleEvent(fd int, event EventType) error
	// HandleTick runs on the loop goroutine after every wake-up, including
	// poll timeouts and Wake calls.
	HandleTick(now time.Time)
}

type EventLoop interface {
	Register(fd int, events EventType) error
	Modify(fd int, events EventType) error
	Unregister(fd int) error
	Run(handler EventHandler) error
	// Wake interrupts a blocked Run so the handler ticks. Safe from any goroutine.
	Wake() error
	Stop()
	Close() error
}

type DNSResolver interface {
	FD() int
	Resolve(host string, done func(ip net.IP, err error)) error
	HandleReadable()
	Expire(now time.Time)
	Close() error
}

// EventDispatch receives per-connection notifications from an IOReactor.
// All methods run on the reactor's dispatch goroutine.
type EventDispatch interface {
	Connected(s Session)
	InputReady(s Session)
	OutputReady(s Session)
	Timeout(s Session)
	Disconnected(s Session)
}

// ErrorNotifier is the error path of the upper protocol handler.
type ErrorNotifier interface {
	Exception(s Session, err error)
}

type IOReactor interface {
	Execute(d EventDispatch) error
	Shutdown()
}

// Session is a non-blocking transport connection as seen by the protocol
// layers. Read and Write return ErrWouldBlock instead of waiting; Read
// returns io.EOF once the peer has closed its side.
type Session interface {
	ID() string
	Fd() int
	Route() Route
	RemoteAddr() string
	Attachment() any

	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// SetEvents replaces the interest set and re-arms readiness reporting.
	SetEvents(events EventType) error

	Close() error
	Shutdown()
	Status() Status

	Tunnel() Handshaker
	SetTunnel(h Handshaker)
}

// Handshaker is a handshake that must finish before application data may
// flow on the session it is attached to.
type Handshaker interface {
	Initialize() (Progress, error)
	IsInitialized() bool
	Readiness() Readiness
	Shutdown()
}

type SecureUpgrader interface {
	Upgrade(targetHost string, s Session) (Session, error)
}
