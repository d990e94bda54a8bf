package hal

import "time"

// minValidEpoch is 2020-01-01T00:00:00Z. Boards without a synced RTC boot
// with a clock far in the past; such a clock is reported as unavailable.
const minValidEpoch = 1577836800

// SystemClock is a TimeSource backed by the host clock.
type SystemClock struct {
	loc *time.Location
	now func() time.Time
}

// NewSystemClock creates a clock reporting hours in loc (UTC if nil).
func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = time.UTC
	}
	return &SystemClock{loc: loc, now: time.Now}
}

// CurrentHour returns the local hour of day.
func (c *SystemClock) CurrentHour() (int, bool) {
	t := c.now()
	if t.Unix() < minValidEpoch {
		return 0, false
	}
	return t.In(c.loc).Hour(), true
}

// EpochSeconds returns Unix seconds.
func (c *SystemClock) EpochSeconds() (int64, bool) {
	sec := c.now().Unix()
	if sec < minValidEpoch {
		return 0, false
	}
	return sec, true
}
