package strategy

import (
	"errors"
	"log/slog"
	"reflect"
	"slices"
	"testing"

	"socks4-tunnel/internal/dispatch"
	"socks4-tunnel/internal/domain"
	"socks4-tunnel/internal/socks4"
	"socks4-tunnel/internal/testutil"
	"socks4-tunnel/internal/tunnel"
)

var discard = slog.New(slog.DiscardHandler)

// secureSession stands in for a TLS session wrapping the tunnel.
type secureSession struct {
	domain.Session
	slot domain.TunnelSlot
}

func (s *secureSession) Tunnel() domain.Handshaker     { return s.slot.Tunnel() }
func (s *secureSession) SetTunnel(h domain.Handshaker) { s.slot.SetTunnel(h) }

type fakeUpgrader struct {
	host  string
	inner domain.Session
	err   error
}

func (u *fakeUpgrader) Upgrade(host string, s domain.Session) (domain.Session, error) {
	u.host, u.inner = host, s
	if u.err != nil {
		return nil, u.err
	}
	return &secureSession{Session: s}, nil
}

func route(targetScheme string) domain.Route {
	return domain.Route{
		Target:       domain.ProxyTarget{Host: "93.82.197.107", Port: 3129},
		TargetScheme: targetScheme,
		Proxy:        domain.ProxyTarget{Host: "127.0.0.1", Port: 1080},
		ProxyScheme:  domain.SchemeSocks,
	}
}

func TestSocks4UpgradePlain(t *testing.T) {
	t.Parallel()

	conn := testutil.NewSession(route(domain.SchemeHTTP))
	got, err := NewSocks4(DefaultUserID, nil, discard).Upgrade(conn)
	if err != nil {
		t.Fatal(err)
	}

	tun, ok := got.(*tunnel.Session)
	if !ok {
		t.Fatalf("got %T want *tunnel.Session", got)
	}
	if conn.Tunnel() != tun {
		t.Fatal("tunnel not attached to the connection")
	}
	if tun.State() != tunnel.StateAwaitingReply {
		t.Fatalf("request not sent eagerly, state %v", tun.State())
	}
	want, _ := socks4.EncodeRequest(conn.Route().Target, DefaultUserID)
	if conn.Written.String() != string(want) {
		t.Fatalf("wrote % x want % x", conn.Written.Bytes(), want)
	}
}

func TestSocks4UpgradeFailure(t *testing.T) {
	t.Parallel()

	conn := testutil.NewSession(route(domain.SchemeHTTP))
	conn.WriteLimit = 2

	if _, err := NewSocks4(DefaultUserID, nil, discard).Upgrade(conn); !errors.Is(err, tunnel.ErrShortWrite) {
		t.Fatalf("err=%v", err)
	}
	if !conn.ShutdownCalled {
		t.Fatal("connection not shut down")
	}
}

func TestSocks4UpgradeSecure(t *testing.T) {
	t.Parallel()

	conn := testutil.NewSession(route(domain.SchemeHTTPS))
	up := &fakeUpgrader{}

	got, err := NewSocks4(DefaultUserID, up, discard).Upgrade(conn)
	if err != nil {
		t.Fatal(err)
	}

	outer, ok := got.(*secureSession)
	if !ok {
		t.Fatalf("got %T want secure session", got)
	}
	tun, ok := up.inner.(*tunnel.Session)
	if !ok {
		t.Fatalf("upgrader wrapped %T, want the tunnel", up.inner)
	}
	if up.host != "93.82.197.107" {
		t.Fatalf("upgrader host %q", up.host)
	}
	if outer.Tunnel() != tun || conn.Tunnel() != tun {
		t.Fatal("tunnel not reachable from both the outer session and the connection")
	}
}

// Proxy accepts, TLS is layered over the tunnel, and the interceptor keeps
// working through the outermost session.
func TestSocks4SecureThroughInterceptor(t *testing.T) {
	t.Parallel()

	t.Run("granted", func(t *testing.T) {
		t.Parallel()

		conn := testutil.NewSession(route(domain.SchemeHTTPS))
		outer, err := NewSocks4(DefaultUserID, &fakeUpgrader{}, discard).Upgrade(conn)
		if err != nil {
			t.Fatal(err)
		}

		rec := &testutil.Recorder{}
		i := dispatch.New(rec, rec, discard)
		i.OutputReady(outer)
		conn.Feed(socks4.EncodeReply(socks4.StatusGranted, 0, nil)...)
		i.InputReady(outer)
		i.OutputReady(outer)

		if want := []string{"input", "output"}; !slices.Equal(rec.Calls, want) {
			t.Fatalf("calls %v want %v", rec.Calls, want)
		}
		if !outer.Tunnel().IsInitialized() {
			t.Fatal("tunnel not ready")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		conn := testutil.NewSession(route(domain.SchemeHTTPS))
		outer, err := NewSocks4(DefaultUserID, &fakeUpgrader{}, discard).Upgrade(conn)
		if err != nil {
			t.Fatal(err)
		}

		rec := &testutil.Recorder{}
		dispatch.New(rec, rec, discard).Timeout(outer)

		if !conn.ShutdownCalled {
			t.Fatal("timeout did not reach the tunnel through the outer session")
		}
		if want := []string{"timeout"}; !slices.Equal(rec.Calls, want) {
			t.Fatalf("calls %v want %v", rec.Calls, want)
		}
	})
}

func TestSocks4UpgradeSecureErrors(t *testing.T) {
	t.Parallel()

	t.Run("no upgrader", func(t *testing.T) {
		t.Parallel()

		conn := testutil.NewSession(route(domain.SchemeHTTPS))
		if _, err := NewSocks4(DefaultUserID, nil, discard).Upgrade(conn); !errors.Is(err, ErrNoSecureUpgrader) {
			t.Fatalf("err=%v", err)
		}
		if !conn.ShutdownCalled {
			t.Fatal("connection not shut down")
		}
	})

	t.Run("upgrade fails", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		conn := testutil.NewSession(route(domain.SchemeHTTPS))
		if _, err := NewSocks4(DefaultUserID, &fakeUpgrader{err: boom}, discard).Upgrade(conn); !errors.Is(err, boom) {
			t.Fatalf("err=%v", err)
		}
		if !conn.ShutdownCalled {
			t.Fatal("connection not shut down")
		}
	})
}

func TestNoopAndSecure(t *testing.T) {
	t.Parallel()

	conn := testutil.NewSession(domain.Route{Target: domain.ProxyTarget{Host: "example.com", Port: 443}, TargetScheme: domain.SchemeHTTPS})

	got, err := Noop{}.Upgrade(conn)
	if err != nil || got != conn {
		t.Fatalf("noop: %v %v", got, err)
	}

	up := &fakeUpgrader{}
	if _, err := NewSecure(up).Upgrade(conn); err != nil {
		t.Fatal(err)
	}
	if up.host != "example.com" || up.inner != conn {
		t.Fatalf("secure upgrade got host %q inner %v", up.host, up.inner)
	}

	if _, err := NewSecure(nil).Upgrade(conn); !errors.Is(err, ErrNoSecureUpgrader) {
		t.Fatalf("err=%v", err)
	}
}

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	reg := DefaultRegistry(DefaultUserID, nil, discard)

	tests := []struct {
		scheme   string
		wantType any
		wantErr  bool
	}{
		{scheme: "socks", wantType: &Socks4{}},
		{scheme: "SOCKS4", wantType: &Socks4{}},
		{scheme: "socks4a", wantType: &Socks4{}},
		{scheme: "http", wantType: Noop{}},
		{scheme: "https", wantType: &Secure{}},
		{scheme: "socks5", wantErr: true},
		{scheme: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.scheme, func(t *testing.T) {
			t.Parallel()

			s, err := reg.Lookup(tt.scheme)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownScheme) {
					t.Fatalf("err=%v", err)
				}
				return
			}
			if got, want := reflect.TypeOf(s), reflect.TypeOf(tt.wantType); got != want {
				t.Fatalf("got %s want %s", got, want)
			}
		})
	}
}
