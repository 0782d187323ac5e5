// Package ratelimit provides the per-connection fixed-window message limiter
// used by the relay as a cheap admission check. Violations are dropped
// silently upstream; this is a soft throttle, not a ban mechanism.
package ratelimit

import (
	"sync"
	"time"
)

// Default limits applied by the relay to every connection.
const (
	Window       = 10 * time.Second
	MaxPerWindow = 50
)

// Clock abstracts time.Now so tests can drive the window deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Limiter is a fixed-window counter for a single connection. Once the current
// time has advanced past the window start by more than the window length, the
// window resets; within a window at most max messages are allowed.
type Limiter struct {
	mu sync.Mutex

	clock  Clock
	window time.Duration
	max    int

	windowStart time.Time
	count       int
}

// NewLimiter creates a limiter with the given window length and per-window
// cap. A nil clock falls back to RealClock.
func NewLimiter(clock Clock, window time.Duration, max int) *Limiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &Limiter{
		clock:       clock,
		window:      window,
		max:         max,
		windowStart: clock.Now(),
	}
}

// Allow records one message and reports whether it is within the cap for the
// current window.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Sub(l.windowStart) > l.window {
		l.windowStart = now
		l.count = 0
	}

	l.count++
	return l.count <= l.max
}
