package hal

import (
	"context"
	"time"
)

// Source identifies a power source.
type Source string

const (
	SourceNone    Source = ""
	SourceBattery Source = "battery"
	SourcePSU     Source = "psu"
	SourceSolar   Source = "solar"
)

// Sources lists every selectable power source in a stable order.
var Sources = []Source{SourceBattery, SourcePSU, SourceSolar}

// ParseSource converts a config string into a Source.
func ParseSource(s string) (Source, bool) {
	switch Source(s) {
	case SourceBattery, SourcePSU, SourceSolar:
		return Source(s), true
	}
	return SourceNone, false
}

// Channel is a switched output on the actuator board.
type Channel string

const (
	ChannelWaterHeater     Channel = "water_heater"
	ChannelSoilValve       Channel = "soil_valve"
	ChannelAirValve        Channel = "air_valve"
	ChannelCirculationPump Channel = "circulation_pump"
	ChannelSourceBattery   Channel = "source_battery"
	ChannelSourcePSU       Channel = "source_psu"
	ChannelSourceSolar     Channel = "source_solar"
)

// SourceChannel returns the relay channel that engages src.
func SourceChannel(src Source) Channel {
	return Channel("source_" + string(src))
}

// Indicator is a status lamp.
type Indicator string

// SourceIndicator returns the indicator lamp that belongs to src.
func SourceIndicator(src Source) Indicator {
	return Indicator("led_" + string(src))
}

// VentDirection selects the vent motor direction.
type VentDirection int

const (
	VentClose VentDirection = iota
	VentOpen
)

func (d VentDirection) String() string {
	if d == VentOpen {
		return "open"
	}
	return "close"
}

// SensorSnapshot is the per-tick bundle of readings. It is owned by the
// control loop for one tick and must not be retained past it.
type SensorSnapshot struct {
	InsideAirTemp      Reading
	InsideAirHumidity  Reading
	OutsideAirTemp     Reading
	OutsideAirHumidity Reading
	SoilTemp           Reading
	WaterTemp          Reading
	SoilMoistureRaw    Reading
	SourceVoltages     map[Source]Reading
}

// Voltage returns the raw voltage of src, Unknown if absent.
func (s *SensorSnapshot) Voltage(src Source) Reading {
	if s == nil || s.SourceVoltages == nil {
		return Unknown
	}
	return s.SourceVoltages[src]
}

// Fields lists every scalar reading with its telemetry name.
func (s *SensorSnapshot) Fields() map[string]Reading {
	return map[string]Reading{
		"inside_air_temp":      s.InsideAirTemp,
		"inside_air_humidity":  s.InsideAirHumidity,
		"outside_air_temp":     s.OutsideAirTemp,
		"outside_air_humidity": s.OutsideAirHumidity,
		"soil_temp":            s.SoilTemp,
		"water_temp":           s.WaterTemp,
		"soil_moisture_raw":    s.SoilMoistureRaw,
	}
}

// SensorProvider reads all sensors. Individual failures show up as Unknown
// readings rather than an error.
type SensorProvider interface {
	Read(ctx context.Context) SensorSnapshot
}

// ActuatorDriver drives outputs. Every call is acknowledged with an error.
// DriveVent blocks for the full duration.
type ActuatorDriver interface {
	SetSwitch(ch Channel, on bool) error
	DriveVent(dir VentDirection, d time.Duration) error
	SelectPowerSource(src Source) error
	SetIndicator(id Indicator, on bool) error
}

// TimeSource reports wall-clock time; either value may be unavailable.
type TimeSource interface {
	CurrentHour() (int, bool)
	EpochSeconds() (int64, bool)
}
