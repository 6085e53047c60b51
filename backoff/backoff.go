// Package backoff provides pluggable retry delay strategies for send
// attempts. All strategies are safe for concurrent use (they are
// stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
// Useful in tests.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (additive jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter adds a small random offset to an exponential
// base so simultaneous retries spread out instead of synchronizing.
// Delay = min(Initial * 2^(attempt-1), Max) + random in [0, Jitter).
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with additive
// jitter.
func NewExponentialWithJitter(initial, maxDelay, jitter time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay, Jitter: jitter}
}

// Delay returns the capped exponential base plus a random jitter offset.
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && base > e.Max {
		base = e.Max
	}
	if e.Jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Float64()*float64(e.Jitter)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the engine:
// base-2 exponential from 1s, capped at 1m, with up to 1s of jitter.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute, 1*time.Second)
}
