// Package testutil holds deterministic stand-ins for the manager's clock,
// wall time and id generator, so scenario runs produce identical output.
package testutil

import (
	"sync"
	"time"
)

// DeterministicClock is a resettable sequence clock.
//
// The first call to Next returns 1. After Reset it starts over, so the same
// scenario run twice yields the same event sequence numbers.
//
// Thread-safety: all methods are safe for concurrent use.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock at 0.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the sequence number.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last number handed out.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset returns the clock to 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

// Epoch is the default start of a SteppedTime.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// SteppedTime is a fake wall clock: every Now call returns the previous
// value plus Step.
type SteppedTime struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewSteppedTime starts at start (Epoch when zero) and advances by step.
func NewSteppedTime(start time.Time, step time.Duration) *SteppedTime {
	if start.IsZero() {
		start = Epoch
	}
	return &SteppedTime{next: start, step: step}
}

// Now returns the current fake time and advances it.
func (s *SteppedTime) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.next
	s.next = s.next.Add(s.step)
	return t
}
