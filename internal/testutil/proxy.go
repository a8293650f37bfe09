package testutil

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ginuerzh/gosocks4"
)

// Socks4Proxy is a SOCKS4/4a CONNECT proxy for tests. It answers every
// request with its reply code; when that is gosocks4.Granted it dials the
// requested address and relays in both directions.
type Socks4Proxy struct {
	code uint8
	hold time.Duration

	ln net.Listener
	wg sync.WaitGroup

	mu       sync.Mutex
	requests []*gosocks4.Request
	conns    map[net.Conn]struct{}
}

func NewSocks4Proxy(t testing.TB, code uint8) *Socks4Proxy {
	t.Helper()
	return startProxy(t, &Socks4Proxy{code: code})
}

// NewStalledProxy reads requests but never replies; connections are held
// open for hold.
func NewStalledProxy(t testing.TB, hold time.Duration) *Socks4Proxy {
	t.Helper()
	return startProxy(t, &Socks4Proxy{hold: hold})
}

func startProxy(t testing.TB, p *Socks4Proxy) *Socks4Proxy {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	p.ln = ln
	p.conns = make(map[net.Conn]struct{})
	p.wg.Add(1)
	go p.serve()
	t.Cleanup(p.Close)
	return p
}

func (p *Socks4Proxy) Addr() string {
	return p.ln.Addr().String()
}

func (p *Socks4Proxy) URL() string {
	return "socks://" + p.Addr()
}

// Requests returns the requests received so far.
func (p *Socks4Proxy) Requests() []*gosocks4.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*gosocks4.Request(nil), p.requests...)
}

// Close stops accepting, drops open connections and waits for the
// handlers to return.
func (p *Socks4Proxy) Close() {
	p.ln.Close()
	p.mu.Lock()
	for c := range p.conns {
		c.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Socks4Proxy) track(c net.Conn, add bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if add {
		p.conns[c] = struct{}{}
	} else {
		delete(p.conns, c)
	}
}

func (p *Socks4Proxy) serve() {
	defer p.wg.Done()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.track(conn, true)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handle(conn)
		}()
	}
}

func (p *Socks4Proxy) handle(conn net.Conn) {
	defer p.track(conn, false)
	defer conn.Close()

	req, err := gosocks4.ReadRequest(conn)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.hold > 0 {
		// wait for the client to give up, or the hold to pass
		conn.SetReadDeadline(time.Now().Add(p.hold))
		io.Copy(io.Discard, conn)
		return
	}

	if p.code != gosocks4.Granted {
		gosocks4.NewReply(p.code, nil).Write(conn)
		return
	}

	target, err := net.DialTimeout("tcp", req.Addr.String(), 5*time.Second)
	if err != nil {
		gosocks4.NewReply(gosocks4.Failed, nil).Write(conn)
		return
	}
	p.track(target, true)
	defer p.track(target, false)
	defer target.Close()

	if err := gosocks4.NewReply(gosocks4.Granted, nil).Write(conn); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		io.Copy(target, conn)
		if tc, ok := target.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
		close(done)
	}()
	io.Copy(conn, target)
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.CloseWrite()
	}
	<-done
}
