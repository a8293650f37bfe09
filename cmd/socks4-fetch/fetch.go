package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"socks4-tunnel/internal/application"
	"socks4-tunnel/internal/config"
)

type fetcher interface {
	Fetch(ctx context.Context, target, proxy *url.URL) (*application.Response, error)
}

type outcome struct {
	proxy      string
	expectFail bool
	resp       *application.Response
	err        error
}

// runRequests issues cfg.Requests GETs in parallel, proxy i mod len(proxies)
// for request i, and reports them once all have finished: expected outcomes
// on stdout, unexpected ones on stderr.
func runRequests(ctx context.Context, f fetcher, cfg *config.Config, stdout, stderr io.Writer) error {
	base, err := config.ParseTarget(cfg.Target)
	if err != nil {
		return err
	}
	proxies := cfg.AllProxies()
	if len(proxies) == 0 {
		proxies = []config.Proxy{{}}
	}
	urls := make([]*url.URL, len(proxies))
	for i, p := range proxies {
		if p.Raw == "" {
			continue
		}
		if urls[i], err = config.ParseProxy(p.Raw); err != nil {
			return err
		}
	}

	outcomes := make([]outcome, cfg.Requests)
	var wg sync.WaitGroup
	for i := range outcomes {
		n := i % len(proxies)
		p := proxies[n]
		outcomes[i] = outcome{proxy: p.Raw, expectFail: p.ExpectFail}
		target := requestURL(base, p.Raw, i+1)

		wg.Add(1)
		go func(o *outcome) {
			defer wg.Done()
			o.resp, o.err = f.Fetch(ctx, target, urls[n])
		}(&outcomes[i])
	}
	wg.Wait()

	unexpected := 0
	for i, o := range outcomes {
		switch {
		case !o.expectFail && o.err == nil:
			fmt.Fprintf(stdout, "Successful response: %s %s\n", o.resp.Status, strings.ReplaceAll(string(o.resp.Body), "\n", " "))
		case o.expectFail && o.err != nil:
			fmt.Fprintf(stdout, "Successful error: %v\n", o.err)
		case o.err != nil:
			unexpected++
			fmt.Fprintf(stderr, "request %d via %s failed: %v\n", i+1, proxyName(o.proxy), o.err)
		default:
			unexpected++
			fmt.Fprintf(stderr, "request %d via %s succeeded but was expected to fail: %s\n", i+1, proxyName(o.proxy), o.resp.Status)
		}
	}
	if unexpected > 0 {
		return fmt.Errorf("%d of %d %w", unexpected, len(outcomes), errUnexpected)
	}
	return nil
}

// requestURL tags the target with the proxy used and the request number.
func requestURL(base *url.URL, proxy string, n int) *url.URL {
	u := *base
	q := u.Query()
	if proxy != "" {
		q.Set("proxy", proxy)
	}
	q.Set("requestNo", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return &u
}

func proxyName(p string) string {
	if p == "" {
		return "direct"
	}
	return p
}
