package reactor

import (
	"log/slog"

	"socks4-tunnel/internal/dispatch"
	"socks4-tunnel/internal/domain"
)

// SocksReactor is a Reactor whose dispatcher is wrapped in the tunnel
// event interceptor, so a handshake attached by the session strategy
// completes before the protocol handler sees the connection's events.
// It is used in place of Reactor.
type SocksReactor struct {
	*Reactor
	notifier domain.ErrorNotifier
}

// NewSocks builds the reactor from the same configuration as New. notifier
// receives handshake failures; it may be nil, see dispatch.New.
func NewSocks(cfg Config, notifier domain.ErrorNotifier, log *slog.Logger) (*SocksReactor, error) {
	r, err := New(cfg, log)
	if err != nil {
		return nil, err
	}
	return &SocksReactor{Reactor: r, notifier: notifier}, nil
}

func (r *SocksReactor) Execute(d domain.EventDispatch) error {
	return r.Reactor.Execute(dispatch.New(d, r.notifier, r.log))
}

var _ domain.IOReactor = (*SocksReactor)(nil)
