package main

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"

	"socks4-tunnel/internal/application"
	"socks4-tunnel/internal/config"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, target, proxy *url.URL) (*application.Response, error) {
	key := "direct"
	if proxy != nil {
		key = proxy.String()
	}
	f.mu.Lock()
	f.calls = append(f.calls, key+" "+target.RawQuery)
	f.mu.Unlock()

	if f.fail[key] {
		return nil, errors.New("connection refused")
	}
	return &application.Response{StatusCode: 200, Status: "200 OK", Body: []byte("ok\nok")}, nil
}

func testConfig(requests int) *config.Config {
	cfg := config.NewConfig()
	cfg.Target = "http://example.com/get"
	cfg.Requests = requests
	cfg.Proxies = []string{"socks://127.0.0.1:8888"}
	cfg.FailProxies = []string{"socks://127.0.0.1:9999"}
	return cfg
}

func TestRunRequestsAsExpected(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{fail: map[string]bool{"socks://127.0.0.1:9999": true}}
	var stdout, stderr bytes.Buffer

	if err := runRequests(context.Background(), f, testConfig(4), &stdout, &stderr); err != nil {
		t.Fatalf("err=%v stderr=%q", err, stderr.String())
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	want := []string{
		"Successful response: 200 OK ok ok",
		"Successful error: connection refused",
		"Successful response: 200 OK ok ok",
		"Successful error: connection refused",
	}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("stdout:\n%s", stdout.String())
	}
	if stderr.Len() != 0 {
		t.Fatalf("stderr: %q", stderr.String())
	}
	if len(f.calls) != 4 {
		t.Fatalf("calls %v", f.calls)
	}
}

func TestRunRequestsUnexpected(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{fail: map[string]bool{"socks://127.0.0.1:8888": true}}
	var stdout, stderr bytes.Buffer

	err := runRequests(context.Background(), f, testConfig(2), &stdout, &stderr)
	if !errors.Is(err, errUnexpected) {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(stderr.String(), "request 1 via socks://127.0.0.1:8888 failed") ||
		!strings.Contains(stderr.String(), "request 2 via socks://127.0.0.1:9999 succeeded") {
		t.Fatalf("stderr: %q", stderr.String())
	}
}

func TestRunRequestsDirect(t *testing.T) {
	t.Parallel()

	cfg := testConfig(1)
	cfg.Proxies, cfg.FailProxies = nil, nil
	f := &fakeFetcher{}

	if err := runRequests(context.Background(), f, cfg, &bytes.Buffer{}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 1 || f.calls[0] != "direct requestNo=1" {
		t.Fatalf("calls %v", f.calls)
	}
}

func TestRequestURL(t *testing.T) {
	t.Parallel()

	base, _ := url.Parse("http://example.com/get?a=b")
	got := requestURL(base, "socks://127.0.0.1:8888", 3)

	q := got.Query()
	if q.Get("a") != "b" || q.Get("proxy") != "socks://127.0.0.1:8888" || q.Get("requestNo") != "3" {
		t.Fatalf("url %v", got)
	}
	if base.RawQuery != "a=b" {
		t.Fatalf("base modified: %v", base)
	}
}

func TestOverlay(t *testing.T) {
	t.Parallel()

	file := config.NewConfig()
	file.Requests = 7
	file.Target = "http://from-file/"
	flags := config.NewConfig()
	flags.Requests = 3

	overlay(file, flags, "requests")
	if file.Requests != 3 || file.Target != "http://from-file/" {
		t.Fatalf("config %+v", file)
	}
}

func TestRunRequestsInvalidProxyStartsNothing(t *testing.T) {
	t.Parallel()

	cfg := testConfig(4)
	cfg.FailProxies = []string{"http://127.0.0.1:3128"}
	f := &fakeFetcher{}

	err := runRequests(context.Background(), f, cfg, &bytes.Buffer{}, &bytes.Buffer{})
	if !errors.Is(err, config.ErrInvalidProxy) {
		t.Fatalf("err=%v", err)
	}
	if len(f.calls) != 0 {
		t.Fatalf("calls %v", f.calls)
	}
}
