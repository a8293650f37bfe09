package dispatch

import (
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"socks4-tunnel/internal/obs"
	"socks4-tunnel/internal/socks4"
)

// Not parallel: the counters are shared by every test in the binary.
func TestSwallowAndTimeoutMetrics(t *testing.T) {
	swallowed := promtest.ToFloat64(obs.EventsSwallowedTotal)
	timeouts := promtest.ToFloat64(obs.HandshakeTimeoutsTotal)

	i, _, conn, tun := setup(t, true)
	i.OutputReady(tun)
	i.InputReady(tun)
	conn.Feed(socks4.EncodeReply(socks4.StatusGranted, 0, nil)...)
	i.InputReady(tun)

	if got := promtest.ToFloat64(obs.EventsSwallowedTotal) - swallowed; got != 2 {
		t.Fatalf("swallowed events grew by %v", got)
	}

	stalled, _, _, stalledTun := setup(t, true)
	stalled.Timeout(stalledTun)
	i.Timeout(tun)

	if got := promtest.ToFloat64(obs.HandshakeTimeoutsTotal) - timeouts; got != 1 {
		t.Fatalf("handshake timeouts grew by %v", got)
	}
}
