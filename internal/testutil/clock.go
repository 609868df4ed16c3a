package testutil

import (
	"sync"
	"time"
)

// Epoch is the first time a DeterministicClock returns.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock returns Epoch, Epoch+step, Epoch+2*step, ... on
// successive calls to Now.
//
// The same scenario run against a fresh clock produces identical
// timestamps, which keeps snapshots and golden traces byte-stable.
// Reset allows reuse between runs.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	step  time.Duration
	calls int64
}

// NewDeterministicClock creates a clock advancing one second per call.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockWithStep(time.Second)
}

// NewDeterministicClockWithStep creates a clock advancing step per call.
func NewDeterministicClockWithStep(step time.Duration) *DeterministicClock {
	return &DeterministicClock{step: step}
}

// Now returns the next timestamp.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now was called.
func (c *DeterministicClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
