package sim

import (
	"sync"
	"time"
)

// Clock is a settable TimeSource. It starts unknown until Set is called.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	known bool
	loc   *time.Location
}

// NewClock creates a clock reporting hours in loc (UTC if nil).
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Set makes the clock known at t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	c.known = true
}

// Forget makes the clock unknown again, as after a lost time sync.
func (c *Clock) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known = false
}

// Advance moves the clock forward. It is a no-op while unknown.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known {
		c.now = c.now.Add(d)
	}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// CurrentHour implements hal.TimeSource.
func (c *Clock) CurrentHour() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known {
		return 0, false
	}
	return c.now.In(c.loc).Hour(), true
}

// EpochSeconds implements hal.TimeSource.
func (c *Clock) EpochSeconds() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known {
		return 0, false
	}
	return c.now.Unix(), true
}
