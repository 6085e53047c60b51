// Package ratelimit provides per-channel sliding-window admission
// control. The limiter is consulted, not enforced by blocking: callers
// treat a disallowed channel as temporarily unavailable and route
// elsewhere.
package ratelimit

import (
	"sync"
	"time"

	"github.com/xraph/courier/message"
)

// Window is the trailing interval over which sends are counted.
const Window = 60 * time.Second

// Limiter tracks send timestamps per channel within the trailing window.
// It is engine-instance state, safe for concurrent use; multiple engines
// in one process keep independent counters.
type Limiter struct {
	mu       sync.Mutex
	ceilings map[message.Channel]int
	sends    map[message.Channel][]time.Time
	now      func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with the given per-channel ceilings (sends per
// window). Channels without a ceiling are never limited.
func New(ceilings map[message.Channel]int, opts ...Option) *Limiter {
	l := &Limiter{
		ceilings: make(map[message.Channel]int, len(ceilings)),
		sends:    make(map[message.Channel][]time.Time, len(ceilings)),
		now:      time.Now,
	}
	for ch, n := range ceilings {
		l.ceilings[ch] = n
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether the channel's send count in the trailing window
// is below its ceiling.
func (l *Limiter) Allow(ch message.Channel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ceiling, limited := l.ceilings[ch]
	if !limited {
		return true
	}
	return len(l.prune(ch)) < ceiling
}

// Record registers a send on the channel at the current instant.
func (l *Limiter) Record(ch message.Channel) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, limited := l.ceilings[ch]; !limited {
		return
	}
	l.sends[ch] = append(l.prune(ch), l.now())
}

// InWindow returns the current send count for the channel.
func (l *Limiter) InWindow(ch message.Channel) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(ch))
}

// prune drops timestamps older than the window. Caller must hold l.mu.
func (l *Limiter) prune(ch message.Channel) []time.Time {
	cutoff := l.now().Add(-Window)
	ts := l.sends[ch]

	// Timestamps are appended in order; find the first still inside the
	// window and slide the slice forward.
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ts = append(ts[:0], ts[i:]...)
		l.sends[ch] = ts
	}
	return ts
}
