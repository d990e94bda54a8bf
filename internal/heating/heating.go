// Package heating runs the water, soil and air heating loads with
// hysteresis, water-to-load temperature gating and a per-period water
// heater runtime budget.
package heating

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/daynight"
	"github.com/dokzlo13/greenhoused/internal/hal"
)

// Load names a heated load.
type Load string

const (
	Water Load = "water"
	Soil  Load = "soil"
	Air   Load = "air"
)

// Setpoints are target temperatures for one period, or hysteresis margins.
type Setpoints struct {
	Water float64
	Soil  float64
	Air   float64
}

// Settings configure the controller.
type Settings struct {
	Day     Setpoints
	Night   Setpoints
	Margins Setpoints
	// Water must exceed soil/air by at least this much before those loads run.
	SoilDelta float64
	AirDelta  float64
	// Water heater runtime caps per period; zero or negative is unlimited.
	DayLimit   time.Duration
	NightLimit time.Duration
	HeaterKW   float64
	EnergyRate float64
}

// Budget is the water heater runtime and cost of one period.
type Budget struct {
	RuntimeSeconds float64 `json:"runtime_seconds"`
	Cost           float64 `json:"cost"`
	Exhausted      bool    `json:"exhausted"`
}

// RuntimeMinutes returns the accumulated runtime in minutes.
func (b Budget) RuntimeMinutes() float64 {
	return b.RuntimeSeconds / 60
}

// Switch is one load that flipped during an update.
type Switch struct {
	Load Load
	On   bool
}

// Result summarises one update.
type Result struct {
	Switched []Switch
	// Exhausted is set on the update that used up the water budget.
	Exhausted bool
	Errors    []error
}

// Changed reports whether any load flipped.
func (r Result) Changed() bool {
	return len(r.Switched) > 0
}

// State is a read-only view for telemetry.
type State struct {
	Enabled     bool   `json:"enabled"`
	WaterOn     bool   `json:"water_on"`
	SoilOn      bool   `json:"soil_on"`
	AirOn       bool   `json:"air_on"`
	PumpOn      bool   `json:"pump_on"`
	DayBudget   Budget `json:"day_budget"`
	NightBudget Budget `json:"night_budget"`
}

// Controller owns the three heated loads and the shared circulation pump.
type Controller struct {
	act      hal.ActuatorDriver
	settings Settings
	enabled  bool

	water, soil, air bool
	pump             bool
	// hysteresis memory: the load wants heat regardless of the water gate
	soilWants, airWants bool

	budgets   [2]Budget // indexed by daynight.Phase
	lastEpoch int64
}

// New creates a controller with all loads off.
func New(act hal.ActuatorDriver, settings Settings, enabled bool) *Controller {
	return &Controller{act: act, settings: settings, enabled: enabled}
}

// Update runs one control step. phaseKnown is false while time is unavailable.
func (c *Controller) Update(snap *hal.SensorSnapshot, phase daynight.Phase, phaseKnown bool, epoch int64) Result {
	var res Result

	if !c.enabled {
		c.allOff(&res)
		c.lastEpoch = 0
		return res
	}
	if !phaseKnown {
		c.lastEpoch = 0
		return res
	}

	elapsed := 0.0
	if c.lastEpoch > 0 && epoch > c.lastEpoch {
		elapsed = float64(epoch - c.lastEpoch)
	}
	c.lastEpoch = epoch
	wasHeating := c.water

	target := c.settings.Night
	if phase == daynight.Day {
		target = c.settings.Day
	}
	m := c.settings.Margins
	water, waterKnown := snap.WaterTemp.Get()

	// Soil
	if soil, ok := snap.SoilTemp.Get(); ok {
		c.soilWants = hysteresis(c.soilWants, soil, target.Soil, m.Soil)
		if !c.soilWants {
			c.set(&res, Soil, false)
		} else if waterKnown {
			c.set(&res, Soil, water-soil >= c.settings.SoilDelta)
		}
	}

	// Air
	if air, ok := snap.InsideAirTemp.Get(); ok {
		c.airWants = hysteresis(c.airWants, air, target.Air, m.Air)
		if !c.airWants {
			c.set(&res, Air, false)
		} else if waterKnown {
			c.set(&res, Air, water-air >= c.settings.AirDelta)
		}
	}

	// Soil and air loops share one pump; it stops only when neither runs.
	c.set(&res, pumpLoad, c.soil || c.air)

	// Water
	budget := &c.budgets[phase]
	if waterKnown {
		needsHeat := c.soilWants || c.airWants
		switch {
		case water > target.Water+m.Water:
			c.set(&res, Water, false)
		case water < target.Water-m.Water && needsHeat && !budget.Exhausted:
			c.set(&res, Water, true)
		}
	}

	limit := c.limit(phase)
	if wasHeating && elapsed > 0 {
		// The heater is released on this update, so a long tick is charged
		// no further than the limit.
		if limit > 0 {
			elapsed = math.Max(0, math.Min(elapsed, limit.Seconds()-budget.RuntimeSeconds))
		}
		budget.RuntimeSeconds += elapsed
		budget.Cost += c.settings.HeaterKW * c.settings.EnergyRate * elapsed / 3600
	}
	if limit > 0 && !budget.Exhausted && budget.RuntimeSeconds >= limit.Seconds() {
		budget.Exhausted = true
		res.Exhausted = true
		log.Warn().
			Str("period", phase.String()).
			Float64("runtime_min", budget.RuntimeMinutes()).
			Float64("cost", budget.Cost).
			Msg("Water heater budget exhausted")
	}
	if budget.Exhausted {
		c.set(&res, Water, false)
	}

	return res
}

// hysteresis returns the new wants-heat state for temperature t.
func hysteresis(wants bool, t, target, margin float64) bool {
	switch {
	case t < target-margin:
		return true
	case t > target+margin:
		return false
	}
	return wants
}

func (c *Controller) limit(phase daynight.Phase) time.Duration {
	if phase == daynight.Day {
		return c.settings.DayLimit
	}
	return c.settings.NightLimit
}

const pumpLoad Load = "pump"

func (c *Controller) channel(l Load) (hal.Channel, *bool) {
	switch l {
	case Water:
		return hal.ChannelWaterHeater, &c.water
	case Soil:
		return hal.ChannelSoilValve, &c.soil
	case Air:
		return hal.ChannelAirValve, &c.air
	default:
		return hal.ChannelCirculationPump, &c.pump
	}
}

// set switches a load and records the change. It is a no-op when the load
// already has the requested state.
func (c *Controller) set(res *Result, l Load, on bool) {
	changed, err := c.Switch(l, on)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return
	}
	if changed {
		res.Switched = append(res.Switched, Switch{Load: l, On: on})
	}
}

// Switch sets a load and reports whether its state flipped. A failed relay
// write leaves the recorded state unchanged.
func (c *Controller) Switch(l Load, on bool) (bool, error) {
	ch, state := c.channel(l)
	if *state == on {
		return false, nil
	}
	if err := c.act.SetSwitch(ch, on); err != nil {
		return false, fmt.Errorf("switch %s: %w", l, err)
	}
	*state = on
	log.Debug().Str("load", string(l)).Bool("on", on).Msg("Heating load switched")
	return true, nil
}

func (c *Controller) allOff(res *Result) {
	for _, l := range []Load{Water, Soil, Air, pumpLoad} {
		c.set(res, l, false)
	}
	c.soilWants, c.airWants = false, false
}

// SetEnabled toggles the controller. Disabling takes effect on the next update.
func (c *Controller) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// Enabled reports whether the controller runs.
func (c *Controller) Enabled() bool {
	return c.enabled
}

// SetSetpoints replaces the targets for one period.
func (c *Controller) SetSetpoints(phase daynight.Phase, sp Setpoints) {
	if phase == daynight.Day {
		c.settings.Day = sp
	} else {
		c.settings.Night = sp
	}
}

// ResetPeriod clears the budget of the period being entered and returns
// the values it held.
func (c *Controller) ResetPeriod(phase daynight.Phase) Budget {
	prev := c.budgets[phase]
	c.budgets[phase] = Budget{}
	log.Info().
		Str("period", phase.String()).
		Float64("prev_runtime_min", prev.RuntimeMinutes()).
		Float64("prev_cost", prev.Cost).
		Msg("Water heater budget reset")
	return prev
}

// Budget returns the budget of a period.
func (c *Controller) Budget(phase daynight.Phase) Budget {
	return c.budgets[phase]
}

// IsOn reports the state of a load.
func (c *Controller) IsOn(l Load) bool {
	_, state := c.channel(l)
	return *state
}

// State returns a telemetry view.
func (c *Controller) State() State {
	return State{
		Enabled:     c.enabled,
		WaterOn:     c.water,
		SoilOn:      c.soil,
		AirOn:       c.air,
		PumpOn:      c.pump,
		DayBudget:   c.budgets[daynight.Day],
		NightBudget: c.budgets[daynight.Night],
	}
}
