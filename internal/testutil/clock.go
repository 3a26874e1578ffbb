package testutil

import (
	"sync"
	"time"
)

// Epoch is the fixed start instant for stepped clocks. Scripted runs
// and golden tests share it so timestamps are reproducible.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SteppedClock is a thread-safe logical clock: every Now call advances
// by a fixed step. Two runs driven by fresh clocks with the same start
// and step observe identical timestamps, which makes journals and
// measured costs byte-identical across replays.
type SteppedClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewSteppedClock creates a clock starting at start, advancing by step
// per Now call.
func NewSteppedClock(start time.Time, step time.Duration) *SteppedClock {
	return &SteppedClock{next: start, step: step}
}

// Now returns the current instant and advances the clock.
func (c *SteppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// Reset rewinds the clock to start. Used when a test reruns the same
// scenario and needs identical timestamps again.
func (c *SteppedClock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = start
}
