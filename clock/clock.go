// Package clock provides the time source used by the limiter.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Implementations must never go backwards.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by the process monotonic clock.
// Wall clock adjustments made after New are not observed.
type System struct {
	epoch time.Time
}

// Ensure System implements Clock
var _ Clock = (*System)(nil)

// New returns a System clock anchored at the current time.
func New() *System {
	return &System{epoch: time.Now()}
}

// Now returns the anchored wall time plus the monotonic time elapsed since New.
func (c *System) Now() time.Time {
	return c.epoch.Add(time.Since(c.epoch))
}

// Fake is a manually advanced Clock for tests and simulations.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// Ensure Fake implements Clock
var _ Clock = (*Fake)(nil)

// NewFake returns a Fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *Fake) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
