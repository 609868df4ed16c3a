package engine

import "time"

// Clock supplies timestamps for instance and activity start/end times and
// lock acquisition.
//
// Ordering never depends on the clock: sibling order comes from the FIFO
// work queue and activity instance ids come from a per-instance counter.
// Tests inject a deterministic clock so snapshots and traces are stable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
