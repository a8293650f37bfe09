package epoll

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"socks4-tunnel/internal/domain"
)

type LinuxEventLoop struct {
	epollFD int
	wakeFD  int
	tick    time.Duration
	log     *slog.Logger
	stopped atomic.Bool
	closed  atomic.Bool
}

// New creates an edge-triggered epoll loop. The handler ticks at least
// every tick, and after every batch of events.
func New(tick time.Duration, log *slog.Logger) (*LinuxEventLoop, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	l := &LinuxEventLoop{epollFD: fd, wakeFD: wfd, tick: tick, log: log}
	if err := l.Register(wfd, domain.EventRead); err != nil {
		l.Close()
		return nil, fmt.Errorf("register eventfd: %w", err)
	}
	return l, nil
}

func (l *LinuxEventLoop) Register(fd int, events domain.EventType) error {
	evt := &unix.EpollEvent{
		Events: uint32(events) | unix.EPOLLET, // Edge-triggered
		Fd:     int32(fd),
	}
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_ADD, fd, evt)
}

// Modify replaces the interest set. It also re-arms the edge, so a socket
// that is already ready reports again.
func (l *LinuxEventLoop) Modify(fd int, events domain.EventType) error {
	evt := &unix.EpollEvent{
		Events: uint32(events) | unix.EPOLLET,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_MOD, fd, evt)
}

func (l *LinuxEventLoop) Unregister(fd int) error {
	return unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
}

// Run dispatches events to handler until Stop is called.
func (l *LinuxEventLoop) Run(handler domain.EventHandler) error {
	timeout := -1
	if l.tick > 0 {
		timeout = int(l.tick.Milliseconds())
	}

	events := make([]unix.EpollEvent, 128)
	for !l.stopped.Load() {
		n, err := unix.EpollWait(l.epollFD, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.wakeFD {
				l.drainWake()
				continue
			}

			evMask := events[i].Events

			var domainEv domain.EventType
			if evMask&unix.EPOLLIN != 0 {
				domainEv |= domain.EventRead
			}
			if evMask&unix.EPOLLOUT != 0 {
				domainEv |= domain.EventWrite
			}
			if evMask&unix.EPOLLERR != 0 {
				domainEv |= domain.EventError
			}
			if evMask&unix.EPOLLHUP != 0 {
				domainEv |= domain.EventHangup
			}

			if err := handler.HandleEvent(fd, domainEv); err != nil {
				l.log.Error("event handler failed", "fd", fd, "error", err)
			}
		}

		handler.HandleTick(time.Now())
	}
	return nil
}

func (l *LinuxEventLoop) Wake() error {
	if l.closed.Load() {
		return domain.ErrClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(l.wakeFD, buf[:])
	if err == unix.EAGAIN {
		// counter saturated, a wake-up is already pending
		return nil
	}
	return err
}

// Stop makes Run return after the current batch. Safe from any goroutine.
func (l *LinuxEventLoop) Stop() {
	if l.stopped.CompareAndSwap(false, true) {
		_ = l.Wake()
	}
}

func (l *LinuxEventLoop) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(l.wakeFD, buf[:]); err != unix.EINTR {
			return
		}
	}
}

// Close releases the loop's descriptors. Call it once Run has returned.
func (l *LinuxEventLoop) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	unix.Close(l.wakeFD)
	return unix.Close(l.epollFD)
}

var _ domain.EventLoop = (*LinuxEventLoop)(nil)
