package application

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"socks4-tunnel/internal/domain"
)

type result struct {
	resp *Response
	err  error
}

// exchange is one request/response on one connection. Everything except
// done and cancelled belongs to the dispatch goroutine.
type exchange struct {
	req      *http.Request
	pending  []byte
	received bytes.Buffer
	finished bool

	done      chan result
	cancelled atomic.Bool
}

func newExchange(req *http.Request, wire []byte) *exchange {
	return &exchange{req: req, pending: wire, done: make(chan result, 1)}
}

func (e *exchange) finish(resp *Response, err error) {
	if e.finished {
		return
	}
	e.finished = true
	e.done <- result{resp: resp, err: err}
}

func (e *exchange) fail(err error) {
	e.finish(nil, err)
}

// exchangeHandler is the protocol handler under the interceptor: it writes
// the request, collects the response until the server closes, and reports
// handshake failures as the exchange's error.
type exchangeHandler struct {
	log *slog.Logger
}

func exchangeOf(s domain.Session) *exchange {
	ex, _ := s.Attachment().(*exchange)
	return ex
}

func (h *exchangeHandler) Connected(s domain.Session) {
	h.log.Debug("session connected", "session", s.ID(), "remote", s.RemoteAddr())
}

func (h *exchangeHandler) InputReady(s domain.Session) {
	h.pump(s)
}

func (h *exchangeHandler) OutputReady(s domain.Session) {
	h.pump(s)
}

func (h *exchangeHandler) Timeout(s domain.Session) {
	if ex := exchangeOf(s); ex != nil {
		ex.finish(nil, fmt.Errorf("%w: %s", ErrTimedOut, s.RemoteAddr()))
	}
	s.Shutdown()
}

func (h *exchangeHandler) Disconnected(s domain.Session) {
	h.log.Debug("session disconnected", "session", s.ID())
	if ex := exchangeOf(s); ex != nil {
		ex.finish(nil, ErrClosedEarly)
	}
}

func (h *exchangeHandler) Exception(s domain.Session, err error) {
	if ex := exchangeOf(s); ex != nil {
		ex.finish(nil, err)
	}
}

// pump writes what is left of the request and reads whatever arrived.
// Readiness is edge-triggered, so both run until they would block.
func (h *exchangeHandler) pump(s domain.Session) {
	ex := exchangeOf(s)
	if ex == nil || ex.finished {
		return
	}
	if ex.cancelled.Load() {
		ex.finish(nil, context.Canceled)
		s.Shutdown()
		return
	}

	for len(ex.pending) > 0 {
		n, err := s.Write(ex.pending)
		ex.pending = ex.pending[n:]
		if errors.Is(err, domain.ErrWouldBlock) {
			break
		}
		if err != nil {
			ex.finish(nil, fmt.Errorf("write request: %w", err))
			s.Shutdown()
			return
		}
	}

	buf := make([]byte, 16*1024)
	for {
		n, err := s.Read(buf)
		ex.received.Write(buf[:n])
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrWouldBlock):
			return
		case errors.Is(err, io.EOF):
			ex.finish(parseResponse(ex))
			s.Close()
			return
		default:
			ex.finish(nil, fmt.Errorf("read response: %w", err))
			s.Shutdown()
			return
		}
	}
}

func parseResponse(ex *exchange) (*Response, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(ex.received.Bytes())), ex.req)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

var (
	_ domain.EventDispatch = (*exchangeHandler)(nil)
	_ domain.ErrorNotifier = (*exchangeHandler)(nil)
)
