// Package daynight tracks the day/night phase and fires one transition per
// boundary crossing.
package daynight

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/hal"
)

// Phase is the control-relevant half of the day.
type Phase int

const (
	Night Phase = iota
	Day
)

func (p Phase) String() string {
	if p == Day {
		return "day"
	}
	return "night"
}

// Direction of a transition.
type Direction int

const (
	NightToDay Direction = iota
	DayToNight
)

func (d Direction) String() string {
	if d == NightToDay {
		return "night_to_day"
	}
	return "day_to_night"
}

// Phase returns the phase a transition in this direction enters.
func (d Direction) Phase() Phase {
	if d == NightToDay {
		return Day
	}
	return Night
}

// overdueAfter is the gap after which a missing transition is forced.
const overdueAfter = 24 * 60 * 60

// Transition describes a fired boundary crossing.
type Transition struct {
	Direction Direction
	Epoch     int64
	// Overdue is set when the transition was forced because the last
	// record in this direction was older than 24h or missing.
	Overdue bool
}

// Record holds the last observed transition epoch per direction.
// Zero means not yet observed.
type Record struct {
	LastNightToDay int64 `json:"last_night_to_day"`
	LastDayToNight int64 `json:"last_day_to_night"`
}

func (r *Record) last(d Direction) int64 {
	if d == NightToDay {
		return r.LastNightToDay
	}
	return r.LastDayToNight
}

func (r *Record) set(d Direction, epoch int64) {
	if d == NightToDay {
		r.LastNightToDay = epoch
	} else {
		r.LastDayToNight = epoch
	}
}

// Clock converts wall-clock time into a Phase.
type Clock struct {
	time     hal.TimeSource
	dayStart int
	dayEnd   int
	loc      *time.Location

	record Record
}

// New creates a clock with a day window of [dayStart, dayEnd) hours.
// A window with dayStart > dayEnd wraps midnight.
func New(ts hal.TimeSource, dayStart, dayEnd int, loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{time: ts, dayStart: dayStart, dayEnd: dayEnd, loc: loc}
}

// IsDayHour reports whether hour falls into the day window.
func (c *Clock) IsDayHour(hour int) bool {
	if c.dayStart <= c.dayEnd {
		return hour >= c.dayStart && hour < c.dayEnd
	}
	return hour >= c.dayStart || hour < c.dayEnd
}

// Phase returns the current phase, false when time is unavailable.
func (c *Clock) Phase() (Phase, bool) {
	hour, ok := c.time.CurrentHour()
	if !ok {
		return Night, false
	}
	if c.IsDayHour(hour) {
		return Day, true
	}
	return Night, true
}

// Record returns a copy of the transition record.
func (c *Clock) Record() Record {
	return c.record
}

// Restore replaces the record, typically with one saved by a previous run.
func (c *Clock) Restore(r Record) {
	c.record = r
}

// SetWindow updates the day window; the record is kept.
func (c *Clock) SetWindow(dayStart, dayEnd int) {
	c.dayStart, c.dayEnd = dayStart, dayEnd
}

// CheckTransition fires at most one transition per boundary crossing.
// It returns false when nothing fired or time is unavailable.
func (c *Clock) CheckTransition() (Transition, bool) {
	now, ok := c.time.EpochSeconds()
	if !ok {
		return Transition{}, false
	}
	phase, ok := c.Phase()
	if !ok {
		return Transition{}, false
	}

	dir := DayToNight
	boundary := c.dayEnd
	if phase == Day {
		dir = NightToDay
		boundary = c.dayStart
	}

	last := c.record.last(dir)
	switch {
	case last == 0:
		return c.fire(dir, now, true, "bootstrap"), true
	case now-last > overdueAfter:
		return c.fire(dir, now, true, "overdue"), true
	}

	hour, _ := c.time.CurrentHour()
	if hour == boundary && c.newHourSlot(last, now) {
		return c.fire(dir, now, false, "boundary"), true
	}
	return Transition{}, false
}

// newHourSlot reports whether now lies in a different calendar hour than last.
func (c *Clock) newHourSlot(last, now int64) bool {
	a := time.Unix(last, 0).In(c.loc)
	b := time.Unix(now, 0).In(c.loc)
	return a.Hour() != b.Hour() || a.Day() != b.Day() || a.Month() != b.Month() || a.Year() != b.Year()
}

func (c *Clock) fire(dir Direction, now int64, overdue bool, reason string) Transition {
	c.record.set(dir, now)
	log.Info().
		Str("direction", dir.String()).
		Str("reason", reason).
		Int64("epoch", now).
		Msg("Day/night transition")
	return Transition{Direction: dir, Epoch: now, Overdue: overdue}
}
