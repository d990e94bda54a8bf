package control

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dokzlo13/greenhoused/internal/daynight"
	"github.com/dokzlo13/greenhoused/internal/heating"
	"github.com/dokzlo13/greenhoused/internal/power"
)

// ErrUnknownCommand is returned for an unrecognised command type.
var ErrUnknownCommand = errors.New("unknown command")

// Command is a configuration change applied at the start of the next tick.
type Command interface {
	apply(l *Loop) error
	String() string
}

// SetVentAuto switches the vent between auto and manual mode.
type SetVentAuto struct{ Auto bool }

// SetManualVent sets the manual vent target and selects manual mode.
type SetManualVent struct{ Percent float64 }

// SetPowerMode changes the power arbitration mode.
type SetPowerMode struct{ Mode power.Mode }

// SetHeatingEnabled enables or disables the heating controller.
type SetHeatingEnabled struct{ Enabled bool }

// SetSetpoints replaces the heating targets of one period.
type SetSetpoints struct {
	Phase     daynight.Phase
	Setpoints heating.Setpoints
}

// SetDayWindow changes the day hours.
type SetDayWindow struct{ Start, End int }

func (c SetVentAuto) apply(l *Loop) error {
	l.deps.Vent.SetAuto(c.Auto)
	return nil
}

func (c SetManualVent) apply(l *Loop) error {
	if c.Percent < 0 || c.Percent > 100 {
		return fmt.Errorf("manual vent percent %.1f out of range", c.Percent)
	}
	l.deps.Vent.SetManual(c.Percent)
	return nil
}

func (c SetPowerMode) apply(l *Loop) error {
	l.deps.Power.SetMode(c.Mode)
	return nil
}

func (c SetHeatingEnabled) apply(l *Loop) error {
	l.deps.Heating.SetEnabled(c.Enabled)
	return nil
}

func (c SetSetpoints) apply(l *Loop) error {
	l.deps.Heating.SetSetpoints(c.Phase, c.Setpoints)
	return nil
}

func (c SetDayWindow) apply(l *Loop) error {
	if c.Start < 0 || c.Start > 23 || c.End < 0 || c.End > 23 {
		return fmt.Errorf("day window %d-%d out of range", c.Start, c.End)
	}
	l.deps.DayNight.SetWindow(c.Start, c.End)
	return nil
}

func (c SetVentAuto) String() string       { return fmt.Sprintf("set_vent_auto(%t)", c.Auto) }
func (c SetManualVent) String() string     { return fmt.Sprintf("set_manual_vent(%.1f)", c.Percent) }
func (c SetPowerMode) String() string      { return fmt.Sprintf("set_power_mode(%s)", c.Mode) }
func (c SetHeatingEnabled) String() string { return fmt.Sprintf("set_heating_enabled(%t)", c.Enabled) }
func (c SetSetpoints) String() string      { return fmt.Sprintf("set_setpoints(%s)", c.Phase) }
func (c SetDayWindow) String() string      { return fmt.Sprintf("set_day_window(%d-%d)", c.Start, c.End) }

// envelope is the wire form of a command.
type envelope struct {
	Type    string   `json:"type"`
	Auto    *bool    `json:"auto"`
	Percent *float64 `json:"percent"`
	Mode    string   `json:"mode"`
	Enabled *bool    `json:"enabled"`
	Phase   string   `json:"phase"`
	Water   *float64 `json:"water"`
	Soil    *float64 `json:"soil"`
	Air     *float64 `json:"air"`
	Start   *int     `json:"start"`
	End     *int     `json:"end"`
}

// ParseCommand decodes a JSON command such as
// {"type":"set_manual_vent","percent":40}.
func ParseCommand(data []byte) (Command, error) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	missing := func(field string) error {
		return fmt.Errorf("command %s: missing %q", e.Type, field)
	}

	switch e.Type {
	case "set_vent_auto":
		if e.Auto == nil {
			return nil, missing("auto")
		}
		return SetVentAuto{Auto: *e.Auto}, nil
	case "set_manual_vent":
		if e.Percent == nil {
			return nil, missing("percent")
		}
		return SetManualVent{Percent: *e.Percent}, nil
	case "set_power_mode":
		m, err := power.ParseMode(e.Mode)
		if err != nil {
			return nil, err
		}
		return SetPowerMode{Mode: m}, nil
	case "set_heating_enabled":
		if e.Enabled == nil {
			return nil, missing("enabled")
		}
		return SetHeatingEnabled{Enabled: *e.Enabled}, nil
	case "set_setpoints":
		var phase daynight.Phase
		switch e.Phase {
		case "day":
			phase = daynight.Day
		case "night":
			phase = daynight.Night
		default:
			return nil, fmt.Errorf("command %s: phase must be day or night", e.Type)
		}
		if e.Water == nil || e.Soil == nil || e.Air == nil {
			return nil, missing("water/soil/air")
		}
		return SetSetpoints{Phase: phase, Setpoints: heating.Setpoints{Water: *e.Water, Soil: *e.Soil, Air: *e.Air}}, nil
	case "set_day_window":
		if e.Start == nil || e.End == nil {
			return nil, missing("start/end")
		}
		return SetDayWindow{Start: *e.Start, End: *e.End}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, e.Type)
}
