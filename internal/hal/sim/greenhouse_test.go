package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/greenhoused/internal/hal"
)

func TestClockUnknownUntilSet(t *testing.T) {
	c := NewClock(time.UTC)
	_, ok := c.EpochSeconds()
	assert.False(t, ok)

	c.Advance(time.Hour)
	_, ok = c.CurrentHour()
	assert.False(t, ok)

	c.Set(time.Date(2024, 3, 1, 6, 59, 0, 0, time.UTC))
	c.Advance(time.Minute)
	h, ok := c.CurrentHour()
	require.True(t, ok)
	assert.Equal(t, 7, h)

	c.Forget()
	_, ok = c.EpochSeconds()
	assert.False(t, ok)
}

func TestDriveVentAdvancesClockAndPosition(t *testing.T) {
	c := NewClock(time.UTC)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.Set(start)
	g := New(c)

	require.NoError(t, g.DriveVent(hal.VentOpen, 30*time.Second))
	assert.InDelta(t, 50, g.VentPercent, 1e-9)
	assert.Equal(t, start.Add(30*time.Second), c.Now())

	require.NoError(t, g.DriveVent(hal.VentClose, 90*time.Second))
	assert.Equal(t, 0.0, g.VentPercent)
	assert.Len(t, g.Drives(), 2)
}

func TestInjectedFailures(t *testing.T) {
	g := New(NewClock(nil))
	g.FailChannel(hal.ChannelWaterHeater, true)
	assert.ErrorIs(t, g.SetSwitch(hal.ChannelWaterHeater, true), ErrInjected)
	assert.False(t, g.Relay(hal.ChannelWaterHeater))

	g.FailVent(true)
	assert.ErrorIs(t, g.DriveVent(hal.VentOpen, time.Second), ErrInjected)
	assert.Empty(t, g.Drives())
}

func TestReadUnknownAndSag(t *testing.T) {
	g := New(NewClock(nil))
	g.SetUnknown("soil_temp", true)
	g.SagOnEngage[hal.SourceBattery] = 2

	snap := g.Read(context.Background())
	assert.False(t, snap.SoilTemp.IsKnown())
	assert.True(t, snap.WaterTemp.IsKnown())
	v, _ := snap.Voltage(hal.SourceBattery).Get()
	assert.Equal(t, 12.6, v)

	require.NoError(t, g.SetSwitch(hal.ChannelSourceBattery, true))
	snap = g.Read(context.Background())
	v, _ = snap.Voltage(hal.SourceBattery).Get()
	assert.InDelta(t, 10.6, v, 1e-9)
}

func TestStepHeatsWater(t *testing.T) {
	g := New(NewClock(nil))
	before := g.WaterTemp
	require.NoError(t, g.SetSwitch(hal.ChannelWaterHeater, true))
	g.Step(10 * time.Minute)
	assert.Greater(t, g.WaterTemp, before)
}
