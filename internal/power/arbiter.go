// Package power arbitrates between redundant power sources with voltage
// hysteresis, a critical-drop override and make-before-break switching.
package power

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/greenhoused/internal/hal"
)

var (
	// ErrSwitchAborted is returned when the candidate source failed its
	// post-settling voltage check. The previous source stays active.
	ErrSwitchAborted = errors.New("power switch aborted")
	// ErrNoCandidate is returned when no source is healthy enough to switch to.
	ErrNoCandidate = errors.New("no healthy power source")
)

// Mode selects how the active source is chosen.
type Mode int

const (
	Auto Mode = iota
	ManualA
	ManualB
)

func (m Mode) String() string {
	switch m {
	case ManualA:
		return "manual_a"
	case ManualB:
		return "manual_b"
	default:
		return "auto"
	}
}

// ParseMode converts a config or command string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "auto", "":
		return Auto, nil
	case "manual_a":
		return ManualA, nil
	case "manual_b":
		return ManualB, nil
	}
	return Auto, fmt.Errorf("unknown power mode %q", s)
}

// Calibration converts a raw reading into volts and sets the safe minimum.
type Calibration struct {
	Scale   float64
	Offset  float64
	SafeMin float64
}

// Settings configure the arbiter.
type Settings struct {
	Preferred hal.Source
	Fallback  hal.Source
	ManualA   hal.Source
	ManualB   hal.Source

	SwitchOn  float64
	SwitchOff float64
	Critical  float64

	Settle      time.Duration
	MinInterval time.Duration

	Sources map[hal.Source]Calibration
}

// Result describes one evaluation.
type Result struct {
	// Evaluated is false when the rate limit skipped the evaluation.
	Evaluated bool
	Switched  bool
	From      hal.Source
	To        hal.Source
	Reason    string
	Critical  bool
	// Warning is set once when the active source is held below the
	// switch-off threshold because no alternate is above it.
	Warning string
}

// State is a read-only view for telemetry.
type State struct {
	Mode       string                     `json:"mode"`
	Active     hal.Source                 `json:"active"`
	LastSwitch time.Time                  `json:"last_switch"`
	Voltages   map[hal.Source]hal.Reading `json:"voltages"`
}

// Option customises an Arbiter.
type Option func(*Arbiter)

// WithSleep replaces the settling wait.
func WithSleep(sleep func(time.Duration)) Option {
	return func(a *Arbiter) { a.sleep = sleep }
}

// WithActive records src as already engaged at startup.
func WithActive(src hal.Source) Option {
	return func(a *Arbiter) { a.active = src }
}

// Arbiter owns the power source selection.
type Arbiter struct {
	act      hal.ActuatorDriver
	sensors  hal.SensorProvider
	settings Settings
	sleep    func(time.Duration)
	limiter  *rate.Limiter

	mode       Mode
	active     hal.Source
	lastSwitch time.Time
	voltages   map[hal.Source]hal.Reading
	held       bool
}

// New creates an arbiter. sensors is re-read after the settling delay.
func New(act hal.ActuatorDriver, sensors hal.SensorProvider, settings Settings, mode Mode, opts ...Option) *Arbiter {
	a := &Arbiter{
		act:      act,
		sensors:  sensors,
		settings: settings,
		sleep:    time.Sleep,
		limiter:  rate.NewLimiter(rate.Every(settings.MinInterval), 1),
		mode:     mode,
		voltages: make(map[hal.Source]hal.Reading),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Voltage returns the calibrated voltage of src in snap.
func (a *Arbiter) Voltage(snap *hal.SensorSnapshot, src hal.Source) hal.Reading {
	raw, ok := snap.Voltage(src).Get()
	if !ok {
		return hal.Unknown
	}
	cal := a.settings.Sources[src]
	scale := cal.Scale
	if scale == 0 {
		scale = 1
	}
	return hal.Known(raw*scale + cal.Offset)
}

func (a *Arbiter) healthy(snap *hal.SensorSnapshot, src hal.Source) bool {
	v, ok := a.Voltage(snap, src).Get()
	return ok && v >= a.settings.Sources[src].SafeMin
}

// Evaluate runs one arbitration step at now.
func (a *Arbiter) Evaluate(ctx context.Context, snap *hal.SensorSnapshot, now time.Time) (Result, error) {
	if !a.limiter.AllowN(now, 1) {
		return Result{}, nil
	}
	for _, src := range hal.Sources {
		a.voltages[src] = a.Voltage(snap, src)
	}
	res := Result{Evaluated: true, From: a.active}

	target, reason, critical, err := a.decide(snap)
	res.Reason, res.Critical = reason, critical
	held := reason == reasonHeld
	if held && !a.held {
		res.Warning = fmt.Sprintf("power source %s at or below %.2fV with no alternate above it", a.active, a.settings.SwitchOff)
		log.Warn().
			Str("active", string(a.active)).
			Str("voltage", a.voltages[a.active].String()).
			Msg("Undervoltage with no better source, holding")
	}
	a.held = held
	if err != nil || target == hal.SourceNone || target == a.active {
		return res, err
	}
	if !a.healthy(snap, target) {
		log.Debug().Str("source", string(target)).Str("reason", reason).Msg("Power candidate below safe minimum, not switching")
		return res, nil
	}
	if err := a.switchSource(ctx, target, now); err != nil {
		return res, err
	}
	res.Switched = true
	res.To = target
	log.Info().
		Str("from", string(res.From)).
		Str("to", string(target)).
		Str("reason", reason).
		Msg("Power source switched")
	return res, nil
}

const reasonHeld = "undervoltage_held"

// decide returns the source that should be active and why.
func (a *Arbiter) decide(snap *hal.SensorSnapshot) (hal.Source, string, bool, error) {
	s := a.settings
	active := a.active

	if active != hal.SourceNone {
		if v, ok := a.Voltage(snap, active).Get(); ok && v < s.Critical {
			alt := a.alternate(snap, math.Inf(-1))
			if alt == hal.SourceNone {
				log.Warn().Str("active", string(active)).Float64("voltage", v).Msg("Critical undervoltage with no healthy alternate")
				return hal.SourceNone, "", true, fmt.Errorf("%w: active %s at %.2fV", ErrNoCandidate, active, v)
			}
			return alt, "critical", true, nil
		}
	}

	switch a.mode {
	case ManualA:
		return s.ManualA, "manual", false, nil
	case ManualB:
		return s.ManualB, "manual", false, nil
	}

	if v, ok := a.Voltage(snap, s.Preferred).Get(); ok && v >= s.SwitchOn {
		return s.Preferred, "preferred_recovered", false, nil
	}
	if active == hal.SourceNone {
		return a.alternate(snap, math.Inf(-1)), "startup", false, nil
	}
	if v, ok := a.Voltage(snap, active).Get(); ok && v <= s.SwitchOff {
		// Leaving for a source that is itself below switch-off would
		// bounce back on the next evaluation.
		alt := a.alternate(snap, s.SwitchOff)
		if alt == hal.SourceNone {
			return active, reasonHeld, false, nil
		}
		return alt, "undervoltage", false, nil
	}
	return active, "", false, nil
}

// alternate picks the first healthy source other than the active one
// whose voltage is above floor, trying the fallback, then the preferred,
// then the rest.
func (a *Arbiter) alternate(snap *hal.SensorSnapshot, floor float64) hal.Source {
	order := append([]hal.Source{a.settings.Fallback, a.settings.Preferred}, hal.Sources...)
	for _, src := range order {
		if src == hal.SourceNone || src == a.active {
			continue
		}
		v, ok := a.Voltage(snap, src).Get()
		if a.healthy(snap, src) && ok && v > floor {
			return src
		}
	}
	return hal.SourceNone
}

// switchSource engages to, waits for it to settle, re-measures and only
// then releases the previous source. A source that sags below its safe
// minimum is released again and the previous one stays active.
func (a *Arbiter) switchSource(ctx context.Context, to hal.Source, now time.Time) error {
	from := a.active
	if err := a.act.SetSwitch(hal.SourceChannel(to), true); err != nil {
		return fmt.Errorf("engage %s: %w", to, err)
	}
	a.indicate(to, true)

	a.sleep(a.settings.Settle)

	snap := a.sensors.Read(ctx)
	v := a.Voltage(&snap, to)
	a.voltages[to] = v
	if !a.healthy(&snap, to) {
		a.release(to)
		log.Warn().
			Str("candidate", string(to)).
			Str("kept", string(from)).
			Str("voltage", v.String()).
			Float64("safe_min", a.settings.Sources[to].SafeMin).
			Msg("Power switch aborted after settling")
		return fmt.Errorf("%w: %s at %s below %.2fV", ErrSwitchAborted, to, v, a.settings.Sources[to].SafeMin)
	}

	if err := a.act.SelectPowerSource(to); err != nil {
		a.release(to)
		return fmt.Errorf("select %s: %w", to, err)
	}
	if from != hal.SourceNone {
		a.release(from)
	}
	a.active = to
	a.lastSwitch = now
	return nil
}

func (a *Arbiter) release(src hal.Source) {
	if err := a.act.SetSwitch(hal.SourceChannel(src), false); err != nil {
		log.Error().Err(err).Str("source", string(src)).Msg("Failed to release power source")
	}
	a.indicate(src, false)
}

func (a *Arbiter) indicate(src hal.Source, on bool) {
	if err := a.act.SetIndicator(hal.SourceIndicator(src), on); err != nil {
		log.Warn().Err(err).Str("source", string(src)).Msg("Failed to set source indicator")
	}
}

// SetMode changes the selection mode. It applies on the next evaluation.
func (a *Arbiter) SetMode(m Mode) {
	a.mode = m
}

// Mode returns the selection mode.
func (a *Arbiter) Mode() Mode {
	return a.mode
}

// Active returns the engaged source, or hal.SourceNone before the first switch.
func (a *Arbiter) Active() hal.Source {
	return a.active
}

// State returns a telemetry view.
func (a *Arbiter) State() State {
	v := make(map[hal.Source]hal.Reading, len(a.voltages))
	for src, r := range a.voltages {
		v[src] = r
	}
	return State{Mode: a.mode.String(), Active: a.active, LastSwitch: a.lastSwitch, Voltages: v}
}
