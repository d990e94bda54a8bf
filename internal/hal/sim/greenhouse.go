// Package sim is a simulated greenhouse: sensors, relays, vent motor and
// power sources backed by a coarse thermal model. It runs the daemon in
// test mode and doubles as the hardware fake in tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dokzlo13/greenhoused/internal/hal"
	"github.com/dokzlo13/greenhoused/internal/mathx"
)

// ErrInjected is returned by actuator calls with an injected failure.
var ErrInjected = errors.New("sim: injected actuator failure")

// Drive records one vent motor run.
type Drive struct {
	Direction hal.VentDirection
	Duration  time.Duration
}

// SwitchEvent records one relay write.
type SwitchEvent struct {
	Channel hal.Channel
	On      bool
}

// Greenhouse implements hal.SensorProvider and hal.ActuatorDriver.
type Greenhouse struct {
	mu    sync.Mutex
	clock *Clock

	// Physical state
	AirTemp, SoilTemp, WaterTemp float64
	AirHumidity, OutsideHumidity float64
	OutsideTemp                  float64
	SoilMoisture                 float64
	VentPercent                  float64
	Voltages                     map[hal.Source]float64
	// SagOnEngage lowers a source's voltage while its relay is engaged.
	SagOnEngage map[hal.Source]float64
	// FullTravel is the motor time from fully closed to fully open.
	FullTravel time.Duration

	relays     map[hal.Channel]bool
	indicators map[hal.Indicator]bool
	selected   hal.Source
	unknown    map[string]bool
	failing    map[hal.Channel]bool
	failVent   bool

	drives   []Drive
	switches []SwitchEvent
	selects  []hal.Source
}

// New creates a greenhouse at mild spring conditions.
func New(clock *Clock) *Greenhouse {
	return &Greenhouse{
		clock:           clock,
		AirTemp:         16,
		SoilTemp:        18,
		WaterTemp:       20,
		AirHumidity:     70,
		OutsideTemp:     10,
		OutsideHumidity: 80,
		SoilMoisture:    512,
		Voltages: map[hal.Source]float64{
			hal.SourceBattery: 12.6,
			hal.SourcePSU:     12.0,
			hal.SourceSolar:   0,
		},
		SagOnEngage: make(map[hal.Source]float64),
		FullTravel:  60 * time.Second,
		relays:      make(map[hal.Channel]bool),
		indicators:  make(map[hal.Indicator]bool),
		unknown:     make(map[string]bool),
		failing:     make(map[hal.Channel]bool),
	}
}

// SetUnknown makes a sensor field (hal.SensorSnapshot.Fields key, or a
// "voltage_<source>" name) read as unknown.
func (g *Greenhouse) SetUnknown(field string, unknown bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unknown[field] = unknown
}

// FailChannel injects a failure on every write to ch.
func (g *Greenhouse) FailChannel(ch hal.Channel, fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing[ch] = fail
}

// FailVent injects a vent motor failure.
func (g *Greenhouse) FailVent(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failVent = fail
}

// Read implements hal.SensorProvider.
func (g *Greenhouse) Read(_ context.Context) hal.SensorSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := func(name string, v float64) hal.Reading {
		if g.unknown[name] {
			return hal.Unknown
		}
		return hal.Known(v)
	}
	snap := hal.SensorSnapshot{
		InsideAirTemp:      r("inside_air_temp", g.AirTemp),
		InsideAirHumidity:  r("inside_air_humidity", g.AirHumidity),
		OutsideAirTemp:     r("outside_air_temp", g.OutsideTemp),
		OutsideAirHumidity: r("outside_air_humidity", g.OutsideHumidity),
		SoilTemp:           r("soil_temp", g.SoilTemp),
		WaterTemp:          r("water_temp", g.WaterTemp),
		SoilMoistureRaw:    r("soil_moisture_raw", g.SoilMoisture),
		SourceVoltages:     make(map[hal.Source]hal.Reading, len(g.Voltages)),
	}
	for src, v := range g.Voltages {
		if g.relays[hal.SourceChannel(src)] {
			v -= g.SagOnEngage[src]
		}
		snap.SourceVoltages[src] = r("voltage_"+string(src), v)
	}
	return snap
}

// SetSwitch implements hal.ActuatorDriver.
func (g *Greenhouse) SetSwitch(ch hal.Channel, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing[ch] {
		return fmt.Errorf("%w: %s", ErrInjected, ch)
	}
	g.relays[ch] = on
	g.switches = append(g.switches, SwitchEvent{Channel: ch, On: on})
	return nil
}

// DriveVent implements hal.ActuatorDriver. Simulated time advances by d.
func (g *Greenhouse) DriveVent(dir hal.VentDirection, d time.Duration) error {
	g.mu.Lock()
	if g.failVent {
		g.mu.Unlock()
		return fmt.Errorf("%w: vent motor", ErrInjected)
	}
	g.drives = append(g.drives, Drive{Direction: dir, Duration: d})
	delta := 100 * d.Seconds() / g.FullTravel.Seconds()
	if dir == hal.VentClose {
		delta = -delta
	}
	g.VentPercent = mathx.Percent(g.VentPercent + delta)
	g.mu.Unlock()

	if g.clock != nil {
		g.clock.Advance(d)
	}
	return nil
}

// SelectPowerSource implements hal.ActuatorDriver.
func (g *Greenhouse) SelectPowerSource(src hal.Source) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failing[hal.SourceChannel(src)] {
		return fmt.Errorf("%w: select %s", ErrInjected, src)
	}
	g.selected = src
	g.selects = append(g.selects, src)
	return nil
}

// SetIndicator implements hal.ActuatorDriver.
func (g *Greenhouse) SetIndicator(id hal.Indicator, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.indicators[id] = on
	return nil
}

// Sleep advances simulated time instead of blocking.
func (g *Greenhouse) Sleep(d time.Duration) {
	if g.clock != nil {
		g.clock.Advance(d)
	}
}

// Relay returns the last written state of ch.
func (g *Greenhouse) Relay(ch hal.Channel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.relays[ch]
}

// Indicator returns the state of an indicator lamp.
func (g *Greenhouse) Indicator(id hal.Indicator) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.indicators[id]
}

// Selected returns the source the load selector points at.
func (g *Greenhouse) Selected() hal.Source {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selected
}

// Drives returns every vent motor run so far.
func (g *Greenhouse) Drives() []Drive {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Drive(nil), g.drives...)
}

// Switches returns every relay write so far.
func (g *Greenhouse) Switches() []SwitchEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SwitchEvent(nil), g.switches...)
}

// ResetLog clears recorded drives, switches and selections.
func (g *Greenhouse) ResetLog() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drives = nil
	g.switches = nil
	g.selects = nil
}
