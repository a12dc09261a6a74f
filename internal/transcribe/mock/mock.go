// Package mock provides a scripted transcribe.Transport and a manual
// backoff.Timer for tests.
package mock

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/onyria/onyria/internal/transcribe"
)

// Call records one Transcribe invocation.
type Call struct {
	Req transcribe.Request
	// FileExisted reports whether Req.Path existed when the call was made.
	FileExisted bool
}

// Result is one scripted outcome.
type Result struct {
	Text string
	Err  error
}

// Transport returns Results in order, repeating the last one once the
// script runs out.
type Transport struct {
	mu      sync.Mutex
	Results []Result
	Calls   []Call
}

var _ transcribe.Transport = (*Transport)(nil)

// Transcribe implements transcribe.Transport.
func (t *Transport) Transcribe(_ context.Context, req transcribe.Request) (string, error) {
	_, statErr := os.Stat(req.Path)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, Call{Req: req, FileExisted: statErr == nil})
	if len(t.Results) == 0 {
		return "", nil
	}
	i := min(len(t.Calls), len(t.Results)) - 1
	r := t.Results[i]
	return r.Text, r.Err
}

// CallCount returns the number of recorded calls.
func (t *Transport) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Timer fires immediately and records every requested wait.
type Timer struct {
	mu    sync.Mutex
	c     chan time.Time
	Waits []time.Duration
}

// NewTimer returns a ready Timer.
func NewTimer() *Timer {
	return &Timer{c: make(chan time.Time, 1)}
}

// Start records d and fires at once.
func (t *Timer) Start(d time.Duration) {
	t.mu.Lock()
	t.Waits = append(t.Waits, d)
	t.mu.Unlock()
	t.c <- time.Now()
}

// Stop is a no-op.
func (t *Timer) Stop() {}

// C returns the firing channel.
func (t *Timer) C() <-chan time.Time { return t.c }

// Recorded returns a copy of the recorded waits.
func (t *Timer) Recorded() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.Waits...)
}
