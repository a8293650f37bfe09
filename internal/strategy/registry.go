package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"socks4-tunnel/internal/domain"
)

var ErrUnknownScheme = errors.New("no session strategy registered for scheme")

// Registry maps a scheme to the strategy that layers its connections.
// It is populated before the reactor starts and only read afterwards.
type Registry struct {
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

func (r *Registry) Register(scheme string, s Strategy) *Registry {
	r.strategies[strings.ToLower(scheme)] = s
	return r
}

func (r *Registry) Lookup(scheme string) (Strategy, error) {
	s, ok := r.strategies[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return s, nil
}

// DefaultRegistry registers the SOCKS4 strategy under the proxy schemes,
// a no-op for plain http and a secure upgrade for direct https.
func DefaultRegistry(userID string, secure domain.SecureUpgrader, log *slog.Logger) *Registry {
	socks := NewSocks4(userID, secure, log)
	return NewRegistry().
		Register(domain.SchemeSocks, socks).
		Register(domain.SchemeSocks4, socks).
		Register(domain.SchemeSocks4a, socks).
		Register(domain.SchemeHTTP, Noop{}).
		Register(domain.SchemeHTTPS, NewSecure(secure))
}
