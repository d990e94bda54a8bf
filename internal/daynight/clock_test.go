package daynight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/greenhoused/internal/hal/sim"
)

func at(h, m int) time.Time {
	return time.Date(2024, 4, 10, h, m, 0, 0, time.UTC)
}

func newClock(t *testing.T) (*Clock, *sim.Clock) {
	t.Helper()
	ts := sim.NewClock(time.UTC)
	return New(ts, 7, 21, time.UTC), ts
}

func TestIsDayHour(t *testing.T) {
	c := New(sim.NewClock(nil), 7, 21, nil)
	assert.False(t, c.IsDayHour(6))
	assert.True(t, c.IsDayHour(7))
	assert.True(t, c.IsDayHour(20))
	assert.False(t, c.IsDayHour(21))

	wrapped := New(sim.NewClock(nil), 22, 6, nil)
	assert.True(t, wrapped.IsDayHour(23))
	assert.True(t, wrapped.IsDayHour(2))
	assert.False(t, wrapped.IsDayHour(6))
	assert.False(t, wrapped.IsDayHour(12))
}

func TestCheckTransition_TimeUnknown(t *testing.T) {
	c, _ := newClock(t)
	_, fired := c.CheckTransition()
	assert.False(t, fired)
	assert.Equal(t, Record{}, c.Record())

	_, ok := c.Phase()
	assert.False(t, ok)
}

func TestCheckTransition_Bootstrap(t *testing.T) {
	c, ts := newClock(t)
	ts.Set(at(12, 0))

	tr, fired := c.CheckTransition()
	require.True(t, fired)
	assert.Equal(t, NightToDay, tr.Direction)
	assert.Equal(t, Day, tr.Direction.Phase())
	assert.True(t, tr.Overdue)
	assert.Equal(t, at(12, 0).Unix(), c.Record().LastNightToDay)
	assert.Zero(t, c.Record().LastDayToNight)

	// Same hour slot, nothing more.
	ts.Advance(10 * time.Minute)
	_, fired = c.CheckTransition()
	assert.False(t, fired)
}

func TestCheckTransition_OncePerBoundary(t *testing.T) {
	c, ts := newClock(t)
	ts.Set(at(20, 30))
	_, fired := c.CheckTransition() // bootstrap day
	require.True(t, fired)

	ts.Set(at(21, 0))
	tr, fired := c.CheckTransition() // bootstrap night (no record yet)
	require.True(t, fired)
	assert.Equal(t, DayToNight, tr.Direction)

	// Repeated calls within the 21:00 slot do nothing.
	for i := 0; i < 5; i++ {
		ts.Advance(5 * time.Minute)
		_, fired = c.CheckTransition()
		assert.False(t, fired)
	}

	// Next morning at the boundary hour the night-to-day transition fires once.
	ts.Set(at(7, 0).Add(24 * time.Hour))
	tr, fired = c.CheckTransition()
	require.True(t, fired)
	assert.Equal(t, NightToDay, tr.Direction)
	assert.False(t, tr.Overdue)

	ts.Advance(30 * time.Minute)
	_, fired = c.CheckTransition()
	assert.False(t, fired)

	// Evening boundary exactly 24h after the previous one: not overdue,
	// fired by the boundary rule.
	ts.Set(at(21, 0).Add(24 * time.Hour))
	tr, fired = c.CheckTransition()
	require.True(t, fired)
	assert.Equal(t, DayToNight, tr.Direction)
	assert.False(t, tr.Overdue)
}

func TestCheckTransition_NotAtBoundaryHour(t *testing.T) {
	c, ts := newClock(t)
	ts.Set(at(8, 0))
	_, fired := c.CheckTransition()
	require.True(t, fired)

	// A later day hour that is not the boundary never fires.
	ts.Set(at(9, 0))
	_, fired = c.CheckTransition()
	assert.False(t, fired)
	ts.Set(at(15, 0))
	_, fired = c.CheckTransition()
	assert.False(t, fired)
}

func TestCheckTransition_OverdueCorrection(t *testing.T) {
	c, ts := newClock(t)
	ts.Set(at(10, 0))
	_, fired := c.CheckTransition()
	require.True(t, fired)

	// Exactly 24h later is not overdue and 10:00 is not the boundary.
	ts.Set(at(10, 0).Add(24 * time.Hour))
	_, fired = c.CheckTransition()
	assert.False(t, fired)

	// One second past 24h forces the correction.
	ts.Advance(time.Second)
	tr, fired := c.CheckTransition()
	require.True(t, fired)
	assert.True(t, tr.Overdue)
	assert.Equal(t, NightToDay, tr.Direction)

	_, fired = c.CheckTransition()
	assert.False(t, fired)
}

func TestSetWindow(t *testing.T) {
	c, ts := newClock(t)
	ts.Set(at(6, 30))
	p, ok := c.Phase()
	require.True(t, ok)
	assert.Equal(t, Night, p)

	c.SetWindow(6, 20)
	p, _ = c.Phase()
	assert.Equal(t, Day, p)
}
