package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"socks4-tunnel/internal/domain"
	"socks4-tunnel/internal/reactor"
	"socks4-tunnel/internal/strategy"
)

const DefaultUserAgent = "socks4-fetch/1.0"

var (
	ErrUnsupportedProxy = errors.New("unsupported proxy scheme")
	ErrClosedEarly      = errors.New("connection closed before the response completed")
	ErrTimedOut         = errors.New("socket timed out")
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// Client issues HTTP GET requests over the SOCKS reactor. Each Fetch opens
// its own connection, layered by the strategy registered for the route.
type Client struct {
	log       *slog.Logger
	reactor   *reactor.SocksReactor
	handler   *exchangeHandler
	registry  *strategy.Registry
	userAgent string
}

func NewClient(cfg reactor.Config, registry *strategy.Registry, log *slog.Logger) (*Client, error) {
	h := &exchangeHandler{log: log}

	r, err := reactor.NewSocks(cfg, h, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create reactor: %w", err)
	}

	return &Client{
		log:       log,
		reactor:   r,
		handler:   h,
		registry:  registry,
		userAgent: DefaultUserAgent,
	}, nil
}

// Run drives all connections until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, c.reactor.Shutdown)
	defer stop()

	c.log.Info("client running")
	err := c.reactor.Execute(c.handler)
	if errors.Is(err, reactor.ErrShutdown) {
		return nil
	}
	return err
}

// Shutdown stops Run and fails outstanding fetches.
func (c *Client) Shutdown() {
	c.reactor.Shutdown()
}

// Fetch GETs target, through proxy when it is not nil. Run must be active
// for the request to make progress.
func (c *Client) Fetch(ctx context.Context, target, proxy *url.URL) (*Response, error) {
	route, err := domain.NewRoute(target, proxy)
	if err != nil {
		return nil, err
	}
	if route.Proxied() && !domain.IsSocks(route.ProxyScheme) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProxy, route.ProxyScheme)
	}

	st, err := c.registry.Lookup(route.LayeringScheme())
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Close = true
	req.Header.Set("User-Agent", c.userAgent)

	var wire bytes.Buffer
	if err := req.Write(&wire); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ex := newExchange(req, wire.Bytes())
	err = c.reactor.Connect(reactor.Request{
		Route:      route,
		Attachment: ex,
		Layer:      st.Upgrade,
		Failed:     ex.fail,
	})
	if err != nil {
		return nil, err
	}

	c.log.Debug("fetch queued", "route", route.String())
	select {
	case res := <-ex.done:
		return res.resp, res.err
	case <-ctx.Done():
		ex.cancelled.Store(true)
		return nil, ctx.Err()
	}
}
