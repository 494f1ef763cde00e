package manager

import (
	"sync/atomic"
	"time"
)

// Clock stamps events with a strictly increasing sequence number, so
// listeners can order notifications without wall-clock timestamps.
type Clock interface {
	Next() int64
	Current() int64
}

// SeqClock is the default Clock.
//
// Thread-safety: safe for concurrent use (atomic operations).
type SeqClock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *SeqClock {
	return &SeqClock{}
}

// NewClockAt creates a clock that resumes after start.
func NewClockAt(start int64) *SeqClock {
	c := &SeqClock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number. Each call returns a unique,
// increasing value.
func (c *SeqClock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out.
func (c *SeqClock) Current() int64 {
	return c.seq.Load()
}

// NowFunc supplies wall-clock time for creation stamps and archives.
type NowFunc func() time.Time
