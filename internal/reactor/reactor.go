package reactor

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"socks4-tunnel/internal/domain"
	"socks4-tunnel/internal/infrastructure/epoll"
	"socks4-tunnel/internal/infrastructure/network"
	"socks4-tunnel/internal/infrastructure/resolver"
	"socks4-tunnel/internal/obs"
)

// Request asks the reactor for a connection along Route.
type Request struct {
	Route      domain.Route
	Attachment any
	// Layer runs on the dispatch goroutine once the TCP connection is up and
	// returns the session the dispatcher sees. On error the connection is
	// reset and Failed is called.
	Layer func(domain.Session) (domain.Session, error)
	// Failed reports a connection that never reached Connected. It runs on
	// the dispatch goroutine.
	Failed func(err error)
}

const (
	stateIdle int32 = iota
	stateRunning
	stateShutdown
)

type connecting struct {
	req      Request
	fd       int
	deadline time.Time
}

type resolved struct {
	req      Request
	ip       net.IP
	deadline time.Time
}

type entry struct {
	conn       *network.Conn
	session    domain.Session
	connected  bool
	lastActive time.Time
}

// Reactor is a connecting I/O reactor on one epoll loop. Every connection,
// and every call into the EventDispatch, is handled on the goroutine running
// Execute. Connect and Shutdown are safe from any goroutine.
type Reactor struct {
	cfg  Config
	log  *slog.Logger
	loop domain.EventLoop
	dns  domain.DNSResolver

	state atomic.Int32
	mu    sync.Mutex
	queue []Request

	// dispatch goroutine only
	dispatch   domain.EventDispatch
	connecting map[int]*connecting
	resolved   []resolved
	active     map[int]*entry
	closing    []*entry
}

func New(cfg Config, log *slog.Logger) (*Reactor, error) {
	loop, err := epoll.New(cfg.SelectInterval, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event loop: %w", err)
	}

	r := &Reactor{
		cfg:        cfg,
		log:        log,
		loop:       loop,
		connecting: make(map[int]*connecting),
		active:     make(map[int]*entry),
	}

	dns, err := newResolver(cfg, log)
	if err != nil {
		log.Warn("proxy host names will not resolve", "error", err)
	} else {
		r.dns = dns
	}
	return r, nil
}

func newResolver(cfg Config, log *slog.Logger) (*resolver.Resolver, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ConnectTimeout
	}
	if cfg.Nameserver != "" {
		return resolver.New(cfg.Nameserver, timeout, log)
	}
	path := cfg.ResolvConf
	if path == "" {
		path = resolver.DefaultResolvConf
	}
	return resolver.FromResolvConf(path, timeout, log)
}

// Connect queues req. The connection is started on the next loop tick.
func (r *Reactor) Connect(req Request) error {
	r.mu.Lock()
	if r.state.Load() == stateShutdown {
		r.mu.Unlock()
		return ErrShutdown
	}
	r.queue = append(r.queue, req)
	r.mu.Unlock()

	return r.loop.Wake()
}

// Execute runs the reactor, delivering events to d, until Shutdown. It can
// be called once.
func (r *Reactor) Execute(d domain.EventDispatch) error {
	if !r.state.CompareAndSwap(stateIdle, stateRunning) {
		if r.state.Load() == stateShutdown {
			r.teardown()
			return ErrShutdown
		}
		return ErrRunning
	}
	r.dispatch = d

	if r.dns != nil {
		if err := r.loop.Register(r.dns.FD(), domain.EventRead); err != nil {
			r.teardown()
			return fmt.Errorf("register resolver: %w", err)
		}
	}

	r.log.Info("reactor running", "select_interval", r.cfg.SelectInterval, "socket_timeout", r.cfg.SocketTimeout)
	err := r.loop.Run(r)
	r.teardown()
	return err
}

// Shutdown stops the reactor. Connections are closed and queued requests
// fail with ErrShutdown.
func (r *Reactor) Shutdown() {
	r.mu.Lock()
	prev := r.state.Swap(stateShutdown)
	r.mu.Unlock()

	if prev != stateShutdown {
		r.log.Info("reactor shutting down")
	}
	r.loop.Stop()
}

func (r *Reactor) HandleEvent(fd int, ev domain.EventType) error {
	if r.dns != nil && fd == r.dns.FD() {
		r.dns.HandleReadable()
		return nil
	}

	if c, ok := r.connecting[fd]; ok {
		r.finishConnect(c, time.Now())
		r.reap()
		return nil
	}

	e, ok := r.active[fd]
	if !ok || e.conn.Status() == domain.StatusClosed {
		return nil
	}
	e.lastActive = time.Now()

	if ev&(domain.EventRead|domain.EventError|domain.EventHangup) != 0 {
		r.dispatch.InputReady(e.session)
	}
	if ev&domain.EventWrite != 0 && e.conn.Status() == domain.StatusActive {
		r.dispatch.OutputReady(e.session)
	}
	r.reap()
	return nil
}

func (r *Reactor) HandleTick(now time.Time) {
	r.reap()

	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, req := range queue {
		r.startConnect(req, now)
	}

	ready := r.resolved
	r.resolved = nil
	for _, p := range ready {
		r.dial(p.req, p.ip, p.deadline)
	}

	if r.dns != nil {
		r.dns.Expire(now)
	}

	for fd, c := range r.connecting {
		if !c.deadline.IsZero() && now.After(c.deadline) {
			delete(r.connecting, fd)
			_ = r.loop.Unregister(fd)
			unix.Close(fd)
			r.fail(c.req, "timeout", fmt.Errorf("%w: %s", ErrConnectTimeout, c.req.Route.Hop()))
		}
	}

	if r.cfg.SocketTimeout > 0 {
		for _, e := range r.active {
			if !e.connected || e.conn.Status() == domain.StatusClosed {
				continue
			}
			if now.Sub(e.lastActive) >= r.cfg.SocketTimeout {
				e.lastActive = now
				r.log.Debug("socket timeout", "session", e.conn.ID(), "remote", e.session.RemoteAddr())
				r.dispatch.Timeout(e.session)
			}
		}
	}

	r.reap()
}

func (r *Reactor) startConnect(req Request, now time.Time) {
	var deadline time.Time
	if r.cfg.ConnectTimeout > 0 {
		deadline = now.Add(r.cfg.ConnectTimeout)
	}

	hop := req.Route.Hop()
	if ip := net.ParseIP(hop.Host); ip != nil {
		r.dial(req, ip, deadline)
		return
	}

	if r.dns == nil {
		r.fail(req, "resolve", fmt.Errorf("%w: %s", ErrNoResolver, hop.Host))
		return
	}

	err := r.dns.Resolve(hop.Host, func(ip net.IP, err error) {
		if err != nil {
			r.fail(req, "resolve", fmt.Errorf("resolve %s: %w", hop.Host, err))
			return
		}
		// dialed on the next tick, never in the middle of an event batch
		r.resolved = append(r.resolved, resolved{req: req, ip: ip, deadline: deadline})
	})
	if err != nil {
		r.fail(req, "resolve", err)
	}
}

func (r *Reactor) dial(req Request, ip net.IP, deadline time.Time) {
	hop := req.Route.Hop()

	fd, err := network.DialTCP(ip, hop.Port)
	if err != nil {
		r.fail(req, "connect", fmt.Errorf("connect %s: %w", hop, err))
		return
	}

	if err := r.loop.Register(fd, domain.EventRead|domain.EventWrite); err != nil {
		unix.Close(fd)
		r.fail(req, "connect", fmt.Errorf("register %s: %w", hop, err))
		return
	}

	r.connecting[fd] = &connecting{req: req, fd: fd, deadline: deadline}
	r.log.Debug("Initiating TCP connection", "remote_ip", ip.String(), "fd", fd, "route", req.Route.String())
}

func (r *Reactor) finishConnect(c *connecting, now time.Time) {
	delete(r.connecting, c.fd)

	if err := network.ConnectError(c.fd); err != nil {
		_ = r.loop.Unregister(c.fd)
		unix.Close(c.fd)
		r.fail(c.req, "connect", fmt.Errorf("connect %s: %w", c.req.Route.Hop(), err))
		return
	}

	conn := network.NewConn(c.fd, c.req.Route, c.req.Attachment, r.loop)
	e := &entry{conn: conn, session: conn, lastActive: now}
	conn.OnClose(func(*network.Conn) { r.closing = append(r.closing, e) })
	r.active[c.fd] = e
	obs.ConnectionsOpen.Inc()
	r.log.Debug("connected", "session", conn.ID(), "fd", c.fd, "route", c.req.Route.String())

	if c.req.Layer != nil {
		s, err := c.req.Layer(conn)
		if err != nil {
			conn.Shutdown()
			r.fail(c.req, "layer", err)
			return
		}
		e.session = s
	}

	e.connected = true
	r.dispatch.Connected(e.session)

	if conn.Status() == domain.StatusActive {
		// the connect consumed the write edge; re-arm so OutputReady follows
		if err := conn.SetEvents(domain.EventRead | domain.EventWrite); err != nil {
			r.log.Error("re-arm failed", "session", conn.ID(), "error", err)
			conn.Shutdown()
		}
	}
}

func (r *Reactor) fail(req Request, reason string, err error) {
	obs.ConnectFailuresTotal.WithLabelValues(reason).Inc()
	r.log.Warn("connection failed", "route", req.Route.String(), "reason", reason, "error", err)
	if req.Failed != nil {
		req.Failed(err)
	}
}

// reap forgets closed connections and reports them to the dispatcher.
func (r *Reactor) reap() {
	for len(r.closing) > 0 {
		e := r.closing[0]
		r.closing = r.closing[1:]

		if fd := e.conn.Fd(); r.active[fd] == e {
			delete(r.active, fd)
		}
		obs.ConnectionsOpen.Dec()
		if e.connected {
			r.dispatch.Disconnected(e.session)
		}
	}
}

func (r *Reactor) teardown() {
	r.mu.Lock()
	r.state.Store(stateShutdown)
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, req := range queue {
		r.fail(req, "shutdown", ErrShutdown)
	}

	for fd, c := range r.connecting {
		delete(r.connecting, fd)
		_ = r.loop.Unregister(fd)
		unix.Close(fd)
		r.fail(c.req, "shutdown", ErrShutdown)
	}

	if r.dns != nil {
		_ = r.loop.Unregister(r.dns.FD())
		r.dns.Close()
	}
	for _, p := range r.resolved {
		r.fail(p.req, "shutdown", ErrShutdown)
	}
	r.resolved = nil

	for _, e := range r.active {
		e.conn.Close()
	}
	r.reap()

	if err := r.loop.Close(); err != nil {
		r.log.Warn("closing event loop", "error", err)
	}
	r.log.Info("reactor stopped")
}

var _ domain.IOReactor = (*Reactor)(nil)
var _ domain.EventHandler = (*Reactor)(nil)
