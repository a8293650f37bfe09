package strategy

import (
	"errors"
	"fmt"
	"log/slog"

	"socks4-tunnel/internal/domain"
	"socks4-tunnel/internal/tunnel"
)

// DefaultUserID is the SOCKS4 USERID sent when none is configured.
const DefaultUserID = "user"

var ErrNoSecureUpgrader = errors.New("secure target requested but no secure upgrader is configured")

// Strategy layers protocol sessions over a freshly connected transport
// before any data flows. It runs once per connection on the dispatch
// goroutine and returns the session that becomes the active transport.
type Strategy interface {
	Upgrade(s domain.Session) (domain.Session, error)
}

// Noop leaves the connection as it is.
type Noop struct{}

func (Noop) Upgrade(s domain.Session) (domain.Session, error) {
	return s, nil
}

// Secure upgrades a direct connection to the target.
type Secure struct {
	upgrader domain.SecureUpgrader
}

func NewSecure(upgrader domain.SecureUpgrader) *Secure {
	return &Secure{upgrader: upgrader}
}

func (st *Secure) Upgrade(s domain.Session) (domain.Session, error) {
	if st.upgrader == nil {
		return nil, ErrNoSecureUpgrader
	}
	return st.upgrader.Upgrade(s.Route().Target.Host, s)
}

// Socks4 tunnels the connection through the SOCKS4 proxy it was opened
// to, and layers a secure session on top when the target requires one.
type Socks4 struct {
	userID string
	secure domain.SecureUpgrader
	log    *slog.Logger
}

func NewSocks4(userID string, secure domain.SecureUpgrader, log *slog.Logger) *Socks4 {
	return &Socks4{
		userID: userID,
		secure: secure,
		log:    log,
	}
}

func (st *Socks4) Upgrade(s domain.Session) (domain.Session, error) {
	route := s.Route()
	st.log.Debug("upgrading session to socks4", "session", s.ID(), "route", route.String())

	tun := tunnel.New(s, route.Target, st.userID, st.log)

	// send the request now rather than on the first readiness event
	if _, err := tun.Initialize(); err != nil {
		tun.Shutdown()
		return nil, err
	}

	if !route.Secure() {
		return tun, nil
	}
	if st.secure == nil {
		tun.Shutdown()
		return nil, ErrNoSecureUpgrader
	}

	up, err := st.secure.Upgrade(route.Target.Host, tun)
	if err != nil {
		tun.Shutdown()
		return nil, fmt.Errorf("secure upgrade for %s: %w", route.Target, err)
	}
	// the interceptor finds the tunnel through the outermost session
	up.SetTunnel(tun)
	return up, nil
}
