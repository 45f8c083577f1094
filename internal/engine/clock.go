package engine

import "sync/atomic"

// Clock is the generation counter carried on analysis tasks.
//
// Every snapshot handed to the analytical path is stamped with a strictly
// increasing generation. A result whose generation has been superseded is
// discarded on arrival instead of being applied.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next generation and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current generation without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
