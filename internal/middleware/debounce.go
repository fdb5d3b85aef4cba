// Package middleware filters bursts of input events before they become actions.
package middleware

import (
	"sync"
	"time"
)

// Debouncer lets the first press of a burst through and drops every
// following press of the same key until the key has been quiet for the window.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

// NewDebouncer creates a Debouncer. A zero window lets everything through.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether a press for key should fire
func (d *Debouncer) Allow(key string) bool {
	if d == nil || d.window <= 0 {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	last, seen := d.last[key]
	d.last[key] = now

	return !seen || now.Sub(last) >= d.window
}

// Forget drops the state of a key
func (d *Debouncer) Forget(key string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.last, key)
	d.mu.Unlock()
}
