// Package backoff provides retry delay strategies for lock contention.
// All strategies are stateless and safe for concurrent use.
package backoff

import (
	"context"
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

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e Exponential) Delay(attempt int) time.Duration {
	return time.Duration(capped(e.Initial, e.Max, attempt))
}

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)], which
// keeps contending callers from retrying in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	return time.Duration(rand.Float64() * capped(e.Initial, e.Max, attempt)) //nolint:gosec // jitter needs no crypto rand
}

func capped(initial, maxDelay time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	return d
}

// Default returns the lock retry strategy: full jitter from 10ms up to 500ms.
func Default() Strategy {
	return ExponentialWithJitter{Initial: 10 * time.Millisecond, Max: 500 * time.Millisecond}
}

// Wait sleeps for the strategy's delay before the given attempt, returning
// early with ctx.Err() if the context ends first.
func Wait(ctx context.Context, s Strategy, attempt int) error {
	d := s.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
