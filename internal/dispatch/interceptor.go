package dispatch

import (
	"log/slog"

	"socks4-tunnel/internal/domain"
	"socks4-tunnel/internal/obs"
)

// Interceptor sits between the reactor and the upper protocol handler and
// keeps tunnel handshakes invisible to the handler. For each readiness
// event it either forwards the event, swallows it while a handshake is
// still in flight, or reports the handshake failure through the error
// notifier. Exactly one of the three happens per event.
type Interceptor struct {
	delegate domain.EventDispatch
	notifier domain.ErrorNotifier
	log      *slog.Logger
}

// New wraps delegate. notifier receives handshake failures; when nil,
// failed connections are force-closed and the event is forwarded so the
// handler observes the close through its ordinary path.
func New(delegate domain.EventDispatch, notifier domain.ErrorNotifier, log *slog.Logger) *Interceptor {
	return &Interceptor{
		delegate: delegate,
		notifier: notifier,
		log:      log,
	}
}

// Connected is forwarded unchanged; the handshake advances on readiness.
func (i *Interceptor) Connected(s domain.Session) {
	i.delegate.Connected(s)
}

func (i *Interceptor) InputReady(s domain.Session) {
	i.intercept(s, "input", i.delegate.InputReady)
}

func (i *Interceptor) OutputReady(s domain.Session) {
	i.intercept(s, "output", i.delegate.OutputReady)
}

// Timeout is forwarded first, then a stalled handshake is shut down.
func (i *Interceptor) Timeout(s domain.Session) {
	i.delegate.Timeout(s)

	t := s.Tunnel()
	if t == nil || t.IsInitialized() {
		return
	}
	obs.HandshakeTimeoutsTotal.Inc()
	i.log.Warn("socks handshake timed out", "session", s.ID(), "remote", s.RemoteAddr(), "readiness", t.Readiness().String())
	t.Shutdown()
}

func (i *Interceptor) Disconnected(s domain.Session) {
	i.delegate.Disconnected(s)
}

func (i *Interceptor) intercept(s domain.Session, event string, forward func(domain.Session)) {
	t := s.Tunnel()
	if t == nil || t.IsInitialized() {
		forward(s)
		return
	}
	if s.Status() == domain.StatusClosed {
		// torn down mid-handshake; Disconnected follows
		return
	}

	p, err := t.Initialize()
	switch {
	case err != nil:
		i.fail(s, t, err, forward)
	case p == domain.Complete:
		i.log.Debug("socks tunnel ready", "session", s.ID(), "remote", s.RemoteAddr(), "event", event)
		forward(s)
	default:
		obs.EventsSwallowedTotal.Inc()
	}
}

func (i *Interceptor) fail(s domain.Session, t domain.Handshaker, err error, forward func(domain.Session)) {
	i.log.Error("socks handshake failed", "session", s.ID(), "remote", s.RemoteAddr(), "error", err)

	if i.notifier == nil {
		i.log.Error("no error notifier for failed handshake, forcing connection closed", "session", s.ID())
		t.Shutdown()
		s.Shutdown()
		forward(s)
		return
	}

	i.notifier.Exception(s, err)
	t.Shutdown()
	s.Shutdown()
}

var _ domain.EventDispatch = (*Interceptor)(nil)
