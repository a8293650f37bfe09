package tunnel

import (
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"socks4-tunnel/internal/obs"
	"socks4-tunnel/internal/socks4"
)

// The handshake counters are process-wide, so these tests do not run in
// parallel with the rest of the package.

func handshakes(result string) float64 {
	return promtest.ToFloat64(obs.HandshakesTotal.WithLabelValues(result))
}

func TestHandshakeMetrics(t *testing.T) {
	tests := []struct {
		name   string
		reply  []byte
		result string
	}{
		{name: "granted", reply: socks4.EncodeReply(socks4.StatusGranted, 0, nil), result: obs.ResultGranted},
		{name: "rejected", reply: socks4.EncodeReply(socks4.StatusRejected, 0, nil), result: obs.ResultRejected},
		{name: "identd mismatch", reply: socks4.EncodeReply(socks4.StatusIdentdMismatch, 0, nil), result: obs.ResultRejected},
		{name: "protocol violation", reply: []byte{0x04, 90, 0, 0, 0, 0, 0, 0}, result: obs.ResultViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := handshakes(tt.result)

			s, conn := newTunnel(t, scenarioTarget)
			sendRequest(t, s)
			conn.Feed(tt.reply...)
			s.Initialize()

			// a sticky result is counted once
			s.Initialize()

			if got := handshakes(tt.result) - before; got != 1 {
				t.Fatalf("%s handshakes grew by %v", tt.result, got)
			}
		})
	}
}

func TestHandshakeMetricsTransport(t *testing.T) {
	before := handshakes(obs.ResultTransport)

	s, conn := newTunnel(t, scenarioTarget)
	sendRequest(t, s)
	conn.CloseInput()
	if _, err := s.Initialize(); err == nil {
		t.Fatal("expected a transport error")
	}

	if got := handshakes(obs.ResultTransport) - before; got != 1 {
		t.Fatalf("transport handshakes grew by %v", got)
	}
}
