package secure

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"socks4-tunnel/internal/domain"
)

var (
	ErrHandshake = errors.New("tls handshake failed")
	ErrNoCerts   = errors.New("no certificates found")
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds how long a write after the handshake holds
	// the event loop waiting for socket buffer space.
	DefaultWriteTimeout = time.Second
)

// LoadConfig builds the client TLS configuration. caFile, when set, replaces
// the system roots.
func LoadConfig(caFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure,
	}
	if caFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w in %s", ErrNoCerts, caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// Upgrader layers TLS client sessions over established connections.
type Upgrader struct {
	config       *tls.Config
	timeout      time.Duration
	writeTimeout time.Duration
	log          *slog.Logger
}

func NewUpgrader(config *tls.Config, timeout time.Duration, log *slog.Logger) *Upgrader {
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	return &Upgrader{config: config, timeout: timeout, writeTimeout: DefaultWriteTimeout, log: log}
}

// WithWriteTimeout sets the write bound used once the handshake is done.
// Non-positive values keep the current one. Call it before the first Upgrade.
func (u *Upgrader) WithWriteTimeout(d time.Duration) *Upgrader {
	if d > 0 {
		u.writeTimeout = d
	}
	return u
}

// Upgrade wraps s in a TLS session for targetHost. The handshake runs on
// first use of the returned session, once s carries application data.
func (u *Upgrader) Upgrade(targetHost string, s domain.Session) (domain.Session, error) {
	cfg := u.config.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = targetHost
	}

	w := &wire{s: s, timeout: u.timeout, writeTimeout: u.writeTimeout}
	return &Session{
		inner: s,
		wire:  w,
		tls:   tls.Client(w, cfg),
		host:  targetHost,
		log:   u.log,
	}, nil
}

// Session is a TLS client session over a non-blocking transport. It has
// its own tunnel slot, so a handshake attached beneath it can be
// re-attached here.
//
// The TLS handshake itself waits on the socket for up to the upgrader's
// timeout, holding the event loop while it does. Later writes hold it for
// at most the write timeout.
type Session struct {
	domain.TunnelSlot

	inner domain.Session
	wire  *wire
	tls   *tls.Conn
	host  string
	log   *slog.Logger

	handshook bool
	err       error
}

func (s *Session) handshake() error {
	if s.handshook {
		return nil
	}
	if s.err != nil {
		return s.err
	}

	start := time.Now()
	s.wire.handshaking = true
	s.wire.deadline = start.Add(s.wire.timeout)
	err := s.tls.Handshake()
	s.wire.handshaking = false

	if err != nil {
		s.err = fmt.Errorf("%w: %s: %w", ErrHandshake, s.host, err)
		s.log.Error("tls handshake failed", "session", s.inner.ID(), "host", s.host, "error", err)
		return s.err
	}

	s.handshook = true
	state := s.tls.ConnectionState()
	s.log.Debug("tls established", "session", s.inner.ID(), "host", s.host,
		"version", tls.VersionName(state.Version), "cipher", tls.CipherSuiteName(state.CipherSuite), "took", time.Since(start))
	return nil
}

func (s *Session) Read(p []byte) (int, error) {
	if err := s.handshake(); err != nil {
		return 0, err
	}
	n, err := s.tls.Read(p)
	if n > 0 && errors.Is(err, domain.ErrWouldBlock) {
		err = nil
	}
	return n, err
}

func (s *Session) Write(p []byte) (int, error) {
	if err := s.handshake(); err != nil {
		return 0, err
	}
	return s.tls.Write(p)
}

// Close sends close_notify when the handshake completed, then closes the
// transport.
func (s *Session) Close() error {
	if s.inner.Status() == domain.StatusClosed {
		return nil
	}
	if !s.handshook {
		return s.inner.Close()
	}
	return s.tls.Close()
}

func (s *Session) Shutdown() {
	s.inner.Shutdown()
}

// ConnectionState is valid once the first Read or Write returned.
func (s *Session) ConnectionState() tls.ConnectionState {
	return s.tls.ConnectionState()
}

func (s *Session) ID() string                              { return s.inner.ID() }
func (s *Session) Fd() int                                 { return s.inner.Fd() }
func (s *Session) Route() domain.Route                     { return s.inner.Route() }
func (s *Session) RemoteAddr() string                      { return s.inner.RemoteAddr() }
func (s *Session) Attachment() any                         { return s.inner.Attachment() }
func (s *Session) SetEvents(events domain.EventType) error { return s.inner.SetEvents(events) }
func (s *Session) Status() domain.Status                   { return s.inner.Status() }

var (
	_ domain.Session        = (*Session)(nil)
	_ domain.SecureUpgrader = (*Upgrader)(nil)
)
