// Package ratelimit throttles MCP tool invocations with a sliding time window.
//
// The outbound HTTP client uses a token bucket (golang.org/x/time/rate) to pace
// requests to the query API. Tool calls are throttled differently: the agent is
// allowed a fixed number of calls inside any window of the configured length,
// and a slot frees up exactly when the oldest call ages out.
package ratelimit

import (
	"sync"
	"time"
)

// Defaults for the shared tool-call limiter.
const (
	DefaultMaxCalls = 5
	DefaultWindow   = 20 * time.Second
)

// SlidingWindow admits at most maxCalls acquisitions within any window.
// It is safe for concurrent use.
type SlidingWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
	maxCalls   int
	window     time.Duration
	now        func() time.Time
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock replaces the time source. Tests use it to advance time manually.
func WithClock(now func() time.Time) Option {
	return func(w *SlidingWindow) {
		w.now = now
	}
}

// New creates a limiter allowing maxCalls per window.
// Non-positive values fall back to DefaultMaxCalls and DefaultWindow.
func New(maxCalls int, window time.Duration, opts ...Option) *SlidingWindow {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	if window <= 0 {
		window = DefaultWindow
	}
	w := &SlidingWindow{
		timestamps: make([]time.Time, 0, maxCalls),
		maxCalls:   maxCalls,
		window:     window,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// TryAcquire records a call and returns true if the window has room.
// A denied call is not recorded.
func (w *SlidingWindow) TryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	if len(w.timestamps) >= w.maxCalls {
		return false
	}

	w.timestamps = append(w.timestamps, now)
	return true
}

// pruneLocked drops timestamps at or before now-window, keeping the
// half-open interval (now-window, now].
func (w *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)

	keep := 0
	for keep < len(w.timestamps) && !w.timestamps[keep].After(cutoff) {
		keep++
	}
	if keep == 0 {
		return
	}
	// Timestamps are appended in order, so expired entries form a prefix.
	n := copy(w.timestamps, w.timestamps[keep:])
	w.timestamps = w.timestamps[:n]
}

// Reset clears the call history regardless of elapsed time.
func (w *SlidingWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timestamps = w.timestamps[:0]
}

// InFlight returns how many calls currently count against the window.
func (w *SlidingWindow) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return len(w.timestamps)
}

// MaxCalls returns the configured call limit.
func (w *SlidingWindow) MaxCalls() int {
	return w.maxCalls
}

// Window returns the configured window length.
func (w *SlidingWindow) Window() time.Duration {
	return w.window
}
