package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"socks4-tunnel/internal/domain"
	"socks4-tunnel/internal/infrastructure/resolver"
	"socks4-tunnel/internal/reactor"
	"socks4-tunnel/internal/secure"
	"socks4-tunnel/internal/strategy"
	"socks4-tunnel/pkg/logger"
)

const (
	DefaultTarget         = "http://httpbin.org/get"
	DefaultRequests       = 20
	DefaultSelectInterval = time.Second
	DefaultSocketTimeout  = 10 * time.Second
	DefaultConnectTimeout = time.Second
)

// Config is the full driver configuration. Durations are written in YAML as
// Go duration strings ("1s", "250ms").
type Config struct {
	// Target is requested once per request number, with the proxy and the
	// number appended as query parameters.
	Target   string `yaml:"target"`
	Requests int    `yaml:"requests"`

	// Proxies are expected to carry the request. FailProxies are expected
	// to fail it; for those an error is the successful outcome.
	Proxies     []string `yaml:"proxies"`
	FailProxies []string `yaml:"fail_proxies"`
	UserID      string   `yaml:"user_id"`

	SelectInterval   time.Duration `yaml:"select_interval"`
	SocketTimeout    time.Duration `yaml:"socket_timeout"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"tls_write_timeout"`

	Nameserver string `yaml:"nameserver"`
	ResolvConf string `yaml:"resolv_conf"`

	CAFile   string `yaml:"ca_file"`
	Insecure bool   `yaml:"insecure"`

	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	MetricsListen string `yaml:"metrics_listen"`
}

// NewConfig returns the defaults: two local SOCKS4 proxies that should work
// and one that should not.
func NewConfig() *Config {
	return &Config{
		Target:           DefaultTarget,
		Requests:         DefaultRequests,
		Proxies:          []string{"socks://127.0.0.1:8888", "socks://127.0.0.1:8889"},
		FailProxies:      []string{"socks://127.0.0.1:9999"},
		UserID:           strategy.DefaultUserID,
		SelectInterval:   DefaultSelectInterval,
		SocketTimeout:    DefaultSocketTimeout,
		ConnectTimeout:   DefaultConnectTimeout,
		HandshakeTimeout: secure.DefaultHandshakeTimeout,
		WriteTimeout:     secure.DefaultWriteTimeout,
		ResolvConf:       resolver.DefaultResolvConf,
		LogLevel:         "info",
		LogFormat:        logger.FormatText,
	}
}

func (c *Config) Validate() error {
	if c.Target == "" {
		return ErrNoTarget
	}
	if _, err := ParseTarget(c.Target); err != nil {
		return err
	}
	if c.Requests <= 0 {
		return ErrInvalidRequests
	}
	for _, p := range c.AllProxies() {
		if _, err := ParseProxy(p.Raw); err != nil {
			return err
		}
	}
	if strings.IndexByte(c.UserID, 0) >= 0 {
		return ErrInvalidUserID
	}
	for _, d := range []time.Duration{c.SelectInterval, c.ConnectTimeout, c.HandshakeTimeout, c.WriteTimeout} {
		if d <= 0 {
			return ErrInvalidTimeout
		}
	}
	if c.SocketTimeout < 0 {
		return ErrInvalidTimeout
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLogging, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case logger.FormatText, logger.FormatJSON:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidLogging, c.LogFormat)
	}
	return nil
}

// Reactor returns the reactor tuning carried by c.
func (c *Config) Reactor() reactor.Config {
	return reactor.Config{
		SelectInterval: c.SelectInterval,
		SocketTimeout:  c.SocketTimeout,
		ConnectTimeout: c.ConnectTimeout,
		Nameserver:     c.Nameserver,
		ResolvConf:     c.ResolvConf,
	}
}

// Proxy is one configured proxy and whether requests through it should fail.
type Proxy struct {
	Raw        string
	ExpectFail bool
}

// AllProxies lists working proxies first, then the failing ones, in
// configuration order.
func (c *Config) AllProxies() []Proxy {
	out := make([]Proxy, 0, len(c.Proxies)+len(c.FailProxies))
	for _, p := range c.Proxies {
		out = append(out, Proxy{Raw: p})
	}
	for _, p := range c.FailProxies {
		out = append(out, Proxy{Raw: p, ExpectFail: true})
	}
	return out
}

func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	switch strings.ToLower(u.Scheme) {
	case domain.SchemeHTTP, domain.SchemeHTTPS:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidTarget, raw)
	}
	return u, nil
}

func ParseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProxy, err)
	}
	if !domain.IsSocks(u.Scheme) || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, raw)
	}
	return u, nil
}
