package domain

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

type Status int

const (
	StatusActive Status = iota
	StatusClosed
)

type Progress int

const (
	Incomplete Progress = iota
	Complete
)

func (p Progress) String() string {
	if p == Complete {
		return "complete"
	}
	return "incomplete"
}

type Readiness int

const (
	NotStarted Readiness = iota
	InProgress
	Initialized
)

func (r Readiness) String() string {
	switch r {
	case NotStarted:
		return "not started"
	case InProgress:
		return "in progress"
	case Initialized:
		return "initialized"
	default:
		return "unknown"
	}
}

const (
	SchemeHTTP    = "http"
	SchemeHTTPS   = "https"
	SchemeSocks   = "socks"
	SchemeSocks4  = "socks4"
	SchemeSocks4a = "socks4a"
)

// IsSocks reports whether scheme names a SOCKS4 proxy.
func IsSocks(scheme string) bool {
	switch strings.ToLower(scheme) {
	case SchemeSocks, SchemeSocks4, SchemeSocks4a:
		return true
	default:
		return false
	}
}

// ProxyTarget is a host (name or literal address) and port.
type ProxyTarget struct {
	Host string
	Port uint16
}

func (t ProxyTarget) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// ParseTarget parses "host:port". The port is mandatory.
func ParseTarget(hostport string) (ProxyTarget, error) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return ProxyTarget{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, hostport, err)
	}
	if host == "" {
		return ProxyTarget{}, fmt.Errorf("%w: %q: missing host", ErrInvalidTarget, hostport)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return ProxyTarget{}, fmt.Errorf("%w: %q: bad port", ErrInvalidTarget, hostport)
	}
	return ProxyTarget{Host: host, Port: uint16(p)}, nil
}

// TargetFromURL derives the target of u, applying the scheme's default port
// when u has none.
func TargetFromURL(u *url.URL) (ProxyTarget, error) {
	host := u.Hostname()
	if host == "" {
		return ProxyTarget{}, fmt.Errorf("%w: %q: missing host", ErrInvalidTarget, u.String())
	}
	port := u.Port()
	if port == "" {
		port = DefaultPort(strings.ToLower(u.Scheme))
	}
	if port == "" {
		return ProxyTarget{}, fmt.Errorf("%w: %q: missing port", ErrInvalidTarget, u.String())
	}
	return ParseTarget(net.JoinHostPort(host, port))
}

func DefaultPort(scheme string) string {
	switch scheme {
	case SchemeHTTP:
		return "80"
	case SchemeHTTPS:
		return "443"
	case SchemeSocks, SchemeSocks4, SchemeSocks4a:
		return "1080"
	default:
		return ""
	}
}

// Route is how a connection reaches its target: directly, or through one
// proxy hop.
type Route struct {
	Target       ProxyTarget
	TargetScheme string
	Proxy        ProxyTarget
	ProxyScheme  string
}

// NewRoute builds a route from the target URL and an optional proxy URL.
func NewRoute(target, proxy *url.URL) (Route, error) {
	t, err := TargetFromURL(target)
	if err != nil {
		return Route{}, err
	}
	r := Route{Target: t, TargetScheme: strings.ToLower(target.Scheme)}
	if proxy == nil {
		return r, nil
	}
	p, err := TargetFromURL(proxy)
	if err != nil {
		return Route{}, err
	}
	r.Proxy = p
	r.ProxyScheme = strings.ToLower(proxy.Scheme)
	return r, nil
}

func (r Route) Proxied() bool {
	return r.ProxyScheme != ""
}

// Hop is the address the transport connection is opened to.
func (r Route) Hop() ProxyTarget {
	if r.Proxied() {
		return r.Proxy
	}
	return r.Target
}

// LayeringScheme selects the session strategy: the proxy's scheme when
// proxied, the target's otherwise.
func (r Route) LayeringScheme() string {
	if r.Proxied() {
		return r.ProxyScheme
	}
	return r.TargetScheme
}

func (r Route) Secure() bool {
	return r.TargetScheme == SchemeHTTPS
}

func (r Route) String() string {
	if r.Proxied() {
		return r.TargetScheme + "://" + r.Target.String() + " via " + r.ProxyScheme + "://" + r.Proxy.String()
	}
	return r.TargetScheme + "://" + r.Target.String()
}

// TunnelSlot is the per-connection extension slot a handshake is attached
// through. It is written once; later writes are ignored.
type TunnelSlot struct {
	tunnel Handshaker
}

func (s *TunnelSlot) Tunnel() Handshaker {
	return s.tunnel
}

func (s *TunnelSlot) SetTunnel(h Handshaker) {
	if s.tunnel == nil {
		s.tunnel = h
	}
}
