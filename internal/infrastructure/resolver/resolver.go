package resolver

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sys/unix"

	"socks4-tunnel/internal/domain"
	"socks4-tunnel/internal/infrastructure/network"
)

const DefaultResolvConf = "/etc/resolv.conf"

var (
	ErrNoRecords     = errors.New("no A records")
	ErrLookupFailed  = errors.New("lookup failed")
	ErrTimeout       = errors.New("lookup timed out")
	ErrNoNameserver  = errors.New("no usable IPv4 nameserver")
	ErrBadNameserver = errors.New("invalid nameserver address")
)

type query struct {
	host     string
	done     func(net.IP, error)
	deadline time.Time
}

// Resolver looks up A records over UDP without blocking. Queries are sent
// from Resolve and answered from HandleReadable when the socket becomes
// readable; both run on the event loop goroutine.
type Resolver struct {
	fd      int
	server  *unix.SockaddrInet4
	timeout time.Duration
	log     *slog.Logger
	pending map[uint16]*query
}

// New creates a resolver that queries nameserver, given as "ip" or
// "ip:port".
func New(nameserver string, timeout time.Duration, log *slog.Logger) (*Resolver, error) {
	server, err := parseNameserver(nameserver)
	if err != nil {
		return nil, err
	}

	fd, err := network.BindUDP()
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp: %w", err)
	}

	return &Resolver{
		fd:      fd,
		server:  server,
		timeout: timeout,
		log:     log,
		pending: make(map[uint16]*query),
	}, nil
}

// FromResolvConf uses the first IPv4 nameserver listed in path.
func FromResolvConf(path string, timeout time.Duration, log *slog.Logger) (*Resolver, error) {
	cfg, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for _, s := range cfg.Servers {
		if ip := net.ParseIP(s); ip != nil && ip.To4() != nil {
			return New(net.JoinHostPort(s, cfg.Port), timeout, log)
		}
	}
	return nil, fmt.Errorf("%w in %s", ErrNoNameserver, path)
}

func parseNameserver(addr string) (*unix.SockaddrInet4, error) {
	host, port := addr, "53"
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host, port = h, p
	}

	ip := net.ParseIP(host).To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrBadNameserver, addr)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return nil, fmt.Errorf("%w: %q", ErrBadNameserver, addr)
	}

	sa := &unix.SockaddrInet4{Port: int(p)}
	copy(sa.Addr[:], ip)
	return sa, nil
}

func (r *Resolver) FD() int {
	return r.fd
}

// Resolve sends an A query for host. done runs exactly once, from
// HandleReadable, Expire or Close. A literal IP completes immediately.
func (r *Resolver) Resolve(host string, done func(net.IP, error)) error {
	if ip := net.ParseIP(host); ip != nil {
		done(ip, nil)
		return nil
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true
	m.Id = r.nextID()

	packed, err := m.Pack()
	if err != nil {
		return fmt.Errorf("pack query for %q: %w", host, err)
	}

	if err := unix.Sendto(r.fd, packed, 0, r.server); err != nil {
		return fmt.Errorf("dns send failed: %w", err)
	}

	r.pending[m.Id] = &query{host: host, done: done, deadline: time.Now().Add(r.timeout)}
	r.log.Debug("resolving", "host", host, "id", m.Id)
	return nil
}

func (r *Resolver) nextID() uint16 {
	for {
		id := dns.Id()
		if _, taken := r.pending[id]; !taken {
			return id
		}
	}
}

// HandleReadable drains the socket and completes the queries answered.
func (r *Resolver) HandleReadable() {
	buf := make([]byte, dns.MaxMsgSize)
	for {
		n, from, err := unix.Recvfrom(r.fd, buf, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if err != unix.EAGAIN {
				r.log.Warn("dns receive failed", "error", err)
			}
			return
		}
		if !r.fromServer(from) {
			continue
		}
		r.process(buf[:n])
	}
}

func (r *Resolver) fromServer(from unix.Sockaddr) bool {
	sa, ok := from.(*unix.SockaddrInet4)
	return ok && sa.Addr == r.server.Addr && sa.Port == r.server.Port
}

func (r *Resolver) process(b []byte) {
	msg := new(dns.Msg)
	if err := msg.Unpack(b); err != nil {
		r.log.Error("Failed to unpack DNS response", "error", err)
		return
	}

	q, exists := r.pending[msg.Id]
	if !exists {
		return
	}
	if len(msg.Question) != 1 || !strings.EqualFold(msg.Question[0].Name, dns.Fqdn(q.host)) {
		return
	}
	delete(r.pending, msg.Id)

	if msg.Rcode != dns.RcodeSuccess {
		q.done(nil, fmt.Errorf("%w: %s: %s", ErrLookupFailed, q.host, dns.RcodeToString[msg.Rcode]))
		return
	}

	for _, ans := range msg.Answer {
		if a, ok := ans.(*dns.A); ok {
			r.log.Debug("resolved", "host", q.host, "ip", a.A.String())
			q.done(a.A, nil)
			return
		}
	}
	q.done(nil, fmt.Errorf("%w for %s", ErrNoRecords, q.host))
}

// Expire fails the queries whose deadline passed.
func (r *Resolver) Expire(now time.Time) {
	for id, q := range r.pending {
		if now.After(q.deadline) {
			delete(r.pending, id)
			q.done(nil, fmt.Errorf("%w: %s", ErrTimeout, q.host))
		}
	}
}

// Close fails every outstanding query and closes the socket.
func (r *Resolver) Close() error {
	for id, q := range r.pending {
		delete(r.pending, id)
		q.done(nil, fmt.Errorf("resolve %s: %w", q.host, domain.ErrClosed))
	}
	return unix.Close(r.fd)
}

var _ domain.DNSResolver = (*Resolver)(nil)
