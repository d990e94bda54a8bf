// Package vent computes the ventilation target from soil temperature,
// rain and manual override, quantizes it to actuator steps and drives the
// motor for a proportional duration.
package vent

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/daynight"
	"github.com/dokzlo13/greenhoused/internal/hal"
	"github.com/dokzlo13/greenhoused/internal/mathx"
)

// ErrActuation wraps a failed motor drive.
var ErrActuation = errors.New("vent actuation failed")

// Settings configure the controller.
type Settings struct {
	OpenStart  float64
	OpenFinish float64
	Positions  int
	// Runtime is the motor time for full travel.
	Runtime time.Duration
	// AntiChatter is the minimum |expected-actual| in percent that moves the vent.
	AntiChatter float64
	// DayMinimum is a floor on the target while the phase is Day. Zero disables it.
	DayMinimum float64
}

// Input is what one evaluation looks at.
type Input struct {
	SoilTemp   hal.Reading
	Raining    bool
	Phase      daynight.Phase
	PhaseKnown bool
}

// Result describes one evaluation.
type Result struct {
	Expected float64
	Actual   float64
	// Moved is set when the motor ran, homing excluded.
	Moved     bool
	Homed     bool
	Direction hal.VentDirection
	// Delta is the travelled fraction of full range.
	Delta    float64
	Duration time.Duration
}

// State is a read-only view for telemetry.
type State struct {
	Auto          bool    `json:"auto"`
	ManualPercent float64 `json:"manual_percent"`
	Expected      float64 `json:"expected_percent"`
	Actual        float64 `json:"actual_percent"`
	PositionKnown bool    `json:"position_known"`
}

// Option customises a Controller.
type Option func(*Controller)

// WithInitialPosition seeds a known actual position, skipping homing.
// The percent is snapped to the nearest step.
func WithInitialPosition(percent float64) Option {
	return func(c *Controller) {
		c.step = c.toStep(percent)
		c.known = true
	}
}

// WithManual starts the controller in manual mode at percent.
func WithManual(percent float64) Option {
	return func(c *Controller) {
		c.auto = false
		c.manual = mathx.Percent(percent)
	}
}

// Controller owns the vent position. The actual position only changes
// after a successful drive.
type Controller struct {
	act      hal.ActuatorDriver
	settings Settings

	auto     bool
	manual   float64
	expected float64

	// step is the actual position in [0, Positions].
	step  int
	known bool
}

// New creates an auto-mode controller with an unknown position.
func New(act hal.ActuatorDriver, settings Settings, opts ...Option) *Controller {
	if settings.Positions < 1 {
		settings.Positions = 1
	}
	c := &Controller{act: act, settings: settings, auto: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Target returns the expected percent for the input, or false when auto
// mode cannot decide (unknown soil temperature).
func (c *Controller) Target(in Input) (float64, bool) {
	if in.Raining {
		return 0, true
	}
	if !c.auto {
		return c.manual, true
	}
	soil, ok := in.SoilTemp.Get()
	if !ok {
		return 0, false
	}
	s := c.settings
	switch {
	case soil <= s.OpenStart:
		return 0, true
	case soil >= s.OpenFinish:
		return 100, true
	}
	return mathx.Percent((soil - s.OpenStart) / (s.OpenFinish - s.OpenStart) * 100), true
}

// Evaluate computes the target and applies it.
func (c *Controller) Evaluate(in Input) (Result, error) {
	target, ok := c.Target(in)
	if !ok {
		log.Debug().Msg("Vent target unknown, holding position")
		return Result{Expected: c.expected, Actual: c.Actual()}, nil
	}
	if !in.Raining && in.PhaseKnown && in.Phase == daynight.Day && c.settings.DayMinimum > 0 {
		target = math.Max(target, mathx.Percent(c.settings.DayMinimum))
	}
	return c.Apply(target)
}

// Apply moves the vent towards expected percent. Moves smaller than the
// anti-chatter threshold are skipped unless the target is a full extent.
func (c *Controller) Apply(expected float64) (Result, error) {
	expected = mathx.Percent(expected)
	c.expected = expected
	res := Result{Expected: expected}

	if !c.known {
		if err := c.home(); err != nil {
			res.Actual = c.Actual()
			return res, err
		}
		res.Homed = true
	}

	actual := c.Actual()
	res.Actual = actual
	changed := mathx.Abs(expected-actual) > c.settings.AntiChatter
	fullExtent := expected == 0 || expected == 100
	if !changed && !fullExtent {
		return res, nil
	}

	target := c.toStep(expected)
	steps := target - c.step
	if steps == 0 {
		return res, nil
	}
	dir := hal.VentOpen
	if steps < 0 {
		dir = hal.VentClose
		steps = -steps
	}
	d := c.settings.Runtime * time.Duration(steps) / time.Duration(c.settings.Positions)
	if err := c.act.DriveVent(dir, d); err != nil {
		return res, fmt.Errorf("%w: %s for %s: %w", ErrActuation, dir, d, err)
	}
	c.step = target
	res.Actual = c.Actual()
	res.Moved = true
	res.Direction = dir
	res.Delta = float64(steps) / float64(c.settings.Positions)
	res.Duration = d
	log.Info().
		Str("direction", dir.String()).
		Float64("delta", res.Delta).
		Dur("duration", d).
		Float64("actual", res.Actual).
		Msg("Vent moved")
	return res, nil
}

// home runs a full close so the position becomes known.
func (c *Controller) home() error {
	if err := c.act.DriveVent(hal.VentClose, c.settings.Runtime); err != nil {
		return fmt.Errorf("%w: homing: %w", ErrActuation, err)
	}
	c.step = 0
	c.known = true
	log.Info().Dur("duration", c.settings.Runtime).Msg("Vent homed closed")
	return nil
}

func (c *Controller) toStep(percent float64) int {
	n := c.settings.Positions
	return mathx.Clamp(int(math.Round(float64(n)*mathx.Percent(percent)/100)), 0, n)
}

// Actual returns the actual position in percent.
func (c *Controller) Actual() float64 {
	return float64(c.step) * 100 / float64(c.settings.Positions)
}

// Expected returns the last target.
func (c *Controller) Expected() float64 {
	return c.expected
}

// SetAuto switches between auto and manual mode.
func (c *Controller) SetAuto(auto bool) {
	c.auto = auto
}

// SetManual sets the manual target and switches to manual mode.
func (c *Controller) SetManual(percent float64) {
	c.manual = mathx.Percent(percent)
	c.auto = false
}

// Auto reports whether the controller is in auto mode.
func (c *Controller) Auto() bool {
	return c.auto
}

// State returns a telemetry view.
func (c *Controller) State() State {
	return State{
		Auto:          c.auto,
		ManualPercent: c.manual,
		Expected:      c.expected,
		Actual:        c.Actual(),
		PositionKnown: c.known,
	}
}
