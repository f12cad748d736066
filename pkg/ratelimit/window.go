// Package ratelimit implements the fixed-window call budget for the AI
// translator. When the budget is spent the caller fails fast with no
// network attempt and falls back to rule matching.
package ratelimit

import (
	"sync"
	"time"
)

// Window counts calls inside a fixed time window. The window opens on
// first use and resets once its span elapses; it is not sliding.
type Window struct {
	mu          sync.Mutex
	windowStart time.Time
	calls       int
	max         int
	span        time.Duration
	clock       func() time.Time
}

// State is a point-in-time copy of the limiter counters.
type State struct {
	WindowStart time.Time `json:"window_start"`
	Calls       int       `json:"calls_in_window"`
	Max         int       `json:"max_calls_per_window"`
}

type Option func(*Window)

// WithClock substitutes the time source. Tests use this to step through
// windows without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(w *Window) { w.clock = clock }
}

func NewWindow(max int, span time.Duration, opts ...Option) *Window {
	w := &Window{max: max, span: span, clock: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reserve consumes one slot and reports whether it fit in the window.
// Callers that end up never contacting the service must hand the slot back
// with Release; a call that reached the service keeps its slot regardless
// of outcome.
func (w *Window) Reserve() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollLocked()
	if w.calls >= w.max {
		return false
	}
	w.calls++
	return true
}

// Release refunds a reserved slot. Only valid for reservations whose call
// was never sent.
func (w *Window) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.calls > 0 {
		w.calls--
	}
}

// Remaining reports how many slots are left in the current window.
func (w *Window) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollLocked()
	if left := w.max - w.calls; left > 0 {
		return left
	}
	return 0
}

// ResetsAt reports when the current window elapses. Before any call it
// returns the zero time.
func (w *Window) ResetsAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.windowStart.IsZero() {
		return time.Time{}
	}
	return w.windowStart.Add(w.span)
}

// Snapshot returns the current counters.
func (w *Window) Snapshot() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rollLocked()
	return State{WindowStart: w.windowStart, Calls: w.calls, Max: w.max}
}

// SetLimit applies a new budget, effective immediately. Shrinking below the
// current call count blocks further reservations until the window rolls.
func (w *Window) SetLimit(max int, span time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.max = max
	w.span = span
}

func (w *Window) rollLocked() {
	now := w.clock()
	if w.windowStart.IsZero() || now.Sub(w.windowStart) >= w.span {
		w.windowStart = now
		w.calls = 0
	}
}
