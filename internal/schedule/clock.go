// Package schedule decides when a strategy execution is due.
package schedule

import "sync"

// Clock provides the logical tick (block height) driving execution scheduling.
type Clock interface {
	Now() uint64
}

// TickClock is a controllable logical clock. The daemon advances it as new
// block heights are observed; tests advance it directly.
type TickClock struct {
	mu      sync.Mutex
	current uint64
}

// NewTickClock initialises a clock starting at the provided tick.
func NewTickClock(start uint64) *TickClock {
	return &TickClock{current: start}
}

// Now returns the current tick.
func (c *TickClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by n ticks.
func (c *TickClock) Advance(n uint64) {
	if n == 0 {
		return
	}
	c.mu.Lock()
	c.current += n
	c.mu.Unlock()
}

// AdvanceTo moves the clock to the supplied tick if it is in the future.
func (c *TickClock) AdvanceTo(tick uint64) {
	c.mu.Lock()
	if tick > c.current {
		c.current = tick
	}
	c.mu.Unlock()
}
