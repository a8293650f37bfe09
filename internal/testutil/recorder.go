package testutil

import (
	"socks4-tunnel/internal/domain"
)

// Recorder is an upper protocol handler that records every notification
// in order.
type Recorder struct {
	Calls  []string
	Errors []error

	// OnInput, when set, runs on every InputReady.
	OnInput func(s domain.Session)
}

func (r *Recorder) Connected(domain.Session)    { r.Calls = append(r.Calls, "connected") }
func (r *Recorder) OutputReady(domain.Session)  { r.Calls = append(r.Calls, "output") }
func (r *Recorder) Timeout(domain.Session)      { r.Calls = append(r.Calls, "timeout") }
func (r *Recorder) Disconnected(domain.Session) { r.Calls = append(r.Calls, "disconnected") }

func (r *Recorder) InputReady(s domain.Session) {
	r.Calls = append(r.Calls, "input")
	if r.OnInput != nil {
		r.OnInput(s)
	}
}

func (r *Recorder) Exception(_ domain.Session, err error) {
	r.Calls = append(r.Calls, "exception")
	r.Errors = append(r.Errors, err)
}

func (r *Recorder) Count(call string) int {
	n := 0
	for _, c := range r.Calls {
		if c == call {
			n++
		}
	}
	return n
}
