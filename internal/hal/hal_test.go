package hal

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReading(t *testing.T) {
	v, ok := Unknown.Get()
	assert.False(t, ok)
	assert.Zero(t, v)
	assert.Equal(t, "unknown", Unknown.String())

	r := Known(21.5)
	v, ok = r.Get()
	assert.True(t, ok)
	assert.Equal(t, 21.5, v)
	assert.Equal(t, 21.5, r.Or(0))
	assert.Equal(t, 7.0, Unknown.Or(7))

	assert.False(t, Known(math.NaN()).IsKnown())
	assert.False(t, Known(math.Inf(1)).IsKnown())
}

func TestReadingJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Reading{"a": Known(1.5), "b": Unknown})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1.5,"b":null}`, string(data))

	var back map[string]Reading
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, Known(1.5), back["a"])
	assert.False(t, back["b"].IsKnown())
	assert.Error(t, json.Unmarshal([]byte(`"warm"`), &Reading{}))
}

func TestSnapshotVoltage(t *testing.T) {
	var nilSnap *SensorSnapshot
	assert.False(t, nilSnap.Voltage(SourceBattery).IsKnown())

	s := SensorSnapshot{SourceVoltages: map[Source]Reading{SourceBattery: Known(12.6)}}
	assert.True(t, s.Voltage(SourceBattery).IsKnown())
	assert.False(t, s.Voltage(SourcePSU).IsKnown())
}

func TestSourceNames(t *testing.T) {
	assert.Equal(t, ChannelSourceBattery, SourceChannel(SourceBattery))
	assert.Equal(t, ChannelSourcePSU, SourceChannel(SourcePSU))
	assert.Equal(t, Indicator("led_solar"), SourceIndicator(SourceSolar))

	src, ok := ParseSource("psu")
	assert.True(t, ok)
	assert.Equal(t, SourcePSU, src)
	_, ok = ParseSource("diesel")
	assert.False(t, ok)
}

func TestSystemClock(t *testing.T) {
	c := NewSystemClock(time.UTC)
	c.now = func() time.Time { return time.Date(2024, 5, 1, 13, 30, 0, 0, time.UTC) }
	h, ok := c.CurrentHour()
	assert.True(t, ok)
	assert.Equal(t, 13, h)

	c.now = func() time.Time { return time.Unix(1000, 0) }
	_, ok = c.CurrentHour()
	assert.False(t, ok)
	_, ok = c.EpochSeconds()
	assert.False(t, ok)
}
