// Package backoff provides retry delay strategies and the bounded retry
// policy applied to externally-facing steps. Strategies are stateless and
// safe for concurrent use.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before retry n (1-indexed).
	// Retry 1 follows the first failed attempt.
	Delay(retry int) time.Duration
}

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration { return c.Interval }

// Exponential doubles the delay on every retry:
// min(Initial * 2^(retry-1), Max). With Jitter set the delay is drawn
// uniformly from [0, that value].
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// NewExponential creates an exponential strategy without jitter.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// NewExponentialWithJitter creates an exponential strategy with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}
}

// Delay returns the delay before retry n.
func (e *Exponential) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(retry-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(base)
}

// Policy bounds how often a failing call is attempted.
type Policy struct {
	// MaxAttempts counts the first try. Values below 1 mean 1.
	MaxAttempts int
	Strategy    Strategy
}

// DefaultPolicy is three attempts with exponential backoff starting at
// 500ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Strategy:    NewExponential(500*time.Millisecond, 4*time.Second),
	}
}

// NoRetry is a single attempt.
func NoRetry() Policy { return Policy{MaxAttempts: 1} }

// Attempts returns the effective attempt ceiling.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Next reports whether another attempt is allowed after attempt number
// attempt failed, and how long to wait before it.
func (p Policy) Next(attempt int) (time.Duration, bool) {
	if attempt >= p.Attempts() {
		return 0, false
	}
	if p.Strategy == nil {
		return 0, true
	}
	return p.Strategy.Delay(attempt), true
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
