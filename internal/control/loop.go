// Package control composes the day/night clock, heating, vent and power
// controllers into the fixed-order control tick.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/daynight"
	"github.com/dokzlo13/greenhoused/internal/hal"
	"github.com/dokzlo13/greenhoused/internal/heating"
	"github.com/dokzlo13/greenhoused/internal/power"
	"github.com/dokzlo13/greenhoused/internal/telemetry"
	"github.com/dokzlo13/greenhoused/internal/vent"
	"github.com/dokzlo13/greenhoused/internal/weather"
)

var (
	// ErrBusy is returned when a tick is requested while another one runs.
	ErrBusy = errors.New("control tick already running")
	// ErrQueueFull is returned when the command queue has no room.
	ErrQueueFull = errors.New("command queue full")
)

// RecordStore saves the day/night transition record after every transition.
type RecordStore interface {
	SaveRecord(daynight.Record) error
}

// Deps are the collaborators of the loop. Weather, Recorder and Records are
// optional.
type Deps struct {
	Sensors  hal.SensorProvider
	Clock    hal.TimeSource
	DayNight *daynight.Clock
	Heating  *heating.Controller
	Vent     *vent.Controller
	Power    *power.Arbiter
	Weather  *weather.Tracker
	Sink     telemetry.Sink
	Recorder telemetry.Recorder
	Records  RecordStore
	// Now drives report throttling and power rate limiting.
	Now    func() time.Time
	BootID string
}

// Options tune the loop.
type Options struct {
	ReportInterval time.Duration
	QueueSize      int
}

// Loop runs one control tick at a time.
type Loop struct {
	deps Deps
	opts Options

	busy     atomic.Bool
	commands chan Command

	sensorWarn  *telemetry.Once
	transitions int
	lastReport  time.Time
	weather     weather.Status

	mu     sync.RWMutex
	latest telemetry.State
}

// New creates a loop.
func New(deps Deps, opts Options) *Loop {
	if deps.Sink == nil {
		deps.Sink = telemetry.Nop{}
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 32
	}
	return &Loop{
		deps:       deps,
		opts:       opts,
		commands:   make(chan Command, opts.QueueSize),
		sensorWarn: telemetry.NewOnce(),
	}
}

// Submit queues a command for the next tick. Safe for concurrent use.
func (l *Loop) Submit(cmd Command) error {
	select {
	case l.commands <- cmd:
		log.Debug().Str("command", cmd.String()).Msg("Command queued")
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, cmd)
	}
}

// Tick runs one main control cycle: commands, day/night transition, sensor
// snapshot, vent, heating, report. Overlapping calls return ErrBusy.
func (l *Loop) Tick(ctx context.Context) error {
	if !l.busy.CompareAndSwap(false, true) {
		log.Warn().Msg("Control tick skipped, previous tick still running")
		return ErrBusy
	}
	defer l.busy.Store(false)

	now := l.deps.Now()
	changed := l.drainCommands()

	if tr, ok := l.deps.DayNight.CheckTransition(); ok {
		l.onTransition(tr)
	}

	snap := l.deps.Sensors.Read(ctx)
	l.checkSensors(&snap)
	phase, phaseKnown := l.deps.DayNight.Phase()

	raining := false
	if l.deps.Weather != nil {
		l.weather = l.deps.Weather.Update(now)
		if l.weather.Escalated {
			l.deps.Sink.ReportWarning(fmt.Sprintf("weather feed failing %d times in a row: %v", l.weather.Failures, l.weather.Err))
		}
		raining = l.weather.Raining
	}

	vres, err := l.deps.Vent.Evaluate(vent.Input{
		SoilTemp:   snap.SoilTemp,
		Raining:    raining,
		Phase:      phase,
		PhaseKnown: phaseKnown,
	})
	if err != nil {
		l.deps.Sink.ReportWarning(err.Error())
	}
	if vres.Moved {
		changed = true
	}

	epoch, _ := l.deps.Clock.EpochSeconds()
	hres := l.deps.Heating.Update(&snap, phase, phaseKnown, epoch)
	for _, err := range hres.Errors {
		l.deps.Sink.ReportWarning(err.Error())
	}
	if hres.Changed() {
		changed = true
	}
	if hres.Exhausted {
		b := l.deps.Heating.Budget(phase)
		l.deps.Sink.ReportWarning(fmt.Sprintf("water heater %s budget exhausted after %.1f min", phase, b.RuntimeMinutes()))
		l.deps.Recorder.RecordBudget(telemetry.BudgetEvent{Period: phase.String(), Budget: b})
	}

	l.report(now, &snap, phase, phaseKnown, changed)
	return nil
}

// PowerTick runs one power arbitration. It shares the busy flag with Tick.
func (l *Loop) PowerTick(ctx context.Context) error {
	if !l.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.busy.Store(false)

	now := l.deps.Now()
	snap := l.deps.Sensors.Read(ctx)
	res, err := l.deps.Power.Evaluate(ctx, &snap, now)

	switch {
	case errors.Is(err, power.ErrSwitchAborted):
		l.deps.Sink.ReportWarning(err.Error())
		l.deps.Recorder.RecordPowerSwitch(telemetry.PowerSwitchEvent{
			From: res.From, Reason: res.Reason, Critical: res.Critical, Aborted: true, Error: err.Error(),
		})
	case errors.Is(err, power.ErrNoCandidate):
		l.deps.Sink.ReportCritical(err.Error())
	case err != nil:
		l.deps.Sink.ReportWarning(err.Error())
	}
	if res.Warning != "" {
		l.deps.Sink.ReportWarning(res.Warning)
	}

	if res.Switched {
		msg := fmt.Sprintf("power source %s -> %s (%s)", sourceName(res.From), res.To, res.Reason)
		if res.Critical {
			l.deps.Sink.ReportCritical(msg)
		} else {
			l.deps.Sink.ReportInfo(msg)
		}
		l.deps.Recorder.RecordPowerSwitch(telemetry.PowerSwitchEvent{
			From: res.From, To: res.To, Reason: res.Reason, Critical: res.Critical,
		})
		phase, phaseKnown := l.deps.DayNight.Phase()
		l.report(now, &snap, phase, phaseKnown, true)
	}
	return err
}

func sourceName(s hal.Source) string {
	if s == hal.SourceNone {
		return "none"
	}
	return string(s)
}

func (l *Loop) drainCommands() bool {
	applied := false
	for {
		select {
		case cmd := <-l.commands:
			if err := cmd.apply(l); err != nil {
				log.Warn().Err(err).Str("command", cmd.String()).Msg("Command rejected")
				l.deps.Sink.ReportWarning(fmt.Sprintf("command %s rejected: %v", cmd, err))
				continue
			}
			log.Info().Str("command", cmd.String()).Msg("Command applied")
			applied = true
		default:
			return applied
		}
	}
}

// onTransition resets the budget of the period being entered and records
// the totals of the period that just ended.
func (l *Loop) onTransition(tr daynight.Transition) {
	entered := tr.Direction.Phase()
	ended := daynight.Night
	if entered == daynight.Night {
		ended = daynight.Day
	}

	ev := telemetry.TransitionEvent{
		Direction: tr.Direction.String(),
		Epoch:     tr.Epoch,
		Overdue:   tr.Overdue,
	}
	// The first transition of a boot closes no period.
	if l.transitions > 0 {
		ev.EndedPeriod = ended.String()
		ev.Ended = l.deps.Heating.Budget(ended)
	}
	l.transitions++

	l.deps.Heating.ResetPeriod(entered)
	l.deps.Recorder.RecordTransition(ev)
	if l.deps.Records != nil {
		if err := l.deps.Records.SaveRecord(l.deps.DayNight.Record()); err != nil {
			l.deps.Sink.ReportWarning(fmt.Sprintf("saving transition record: %v", err))
		}
	}

	msg := fmt.Sprintf("%s transition", tr.Direction)
	if tr.Overdue {
		msg += " (overdue)"
	}
	l.deps.Sink.ReportInfo(msg)
}

// checkSensors reports the first unknown reading of each field once per boot.
func (l *Loop) checkSensors(snap *hal.SensorSnapshot) {
	fields := snap.Fields()
	for src, r := range snap.SourceVoltages {
		fields["voltage_"+string(src)] = r
	}
	for name, r := range fields {
		if r.IsKnown() {
			continue
		}
		if l.sensorWarn.First(name) {
			l.deps.Sink.ReportWarning(fmt.Sprintf("sensor %s unavailable", name))
		}
	}
}

// SensorFailures returns how often each sensor field has read unknown.
func (l *Loop) SensorFailures() map[string]int {
	return l.sensorWarn.Counts()
}

func (l *Loop) report(now time.Time, snap *hal.SensorSnapshot, phase daynight.Phase, phaseKnown bool, changed bool) {
	sensors := snap.Fields()
	for src, r := range snap.SourceVoltages {
		sensors["voltage_"+string(src)] = r
	}
	st := telemetry.State{
		BootID:     l.deps.BootID,
		Time:       now,
		Phase:      phase.String(),
		PhaseKnown: phaseKnown,
		Sensors:    sensors,
		Heating:    l.deps.Heating.State(),
		Vent:       l.deps.Vent.State(),
		Power:      l.deps.Power.State(),
		Weather: telemetry.WeatherState{
			Code:     l.weather.Code,
			Known:    l.weather.Known,
			Raining:  l.weather.Raining,
			Failures: l.weather.Failures,
		},
	}
	if !phaseKnown {
		st.Phase = "unknown"
	}

	l.mu.Lock()
	l.latest = st
	l.mu.Unlock()

	if changed || l.lastReport.IsZero() || now.Sub(l.lastReport) >= l.opts.ReportInterval {
		l.lastReport = now
		l.deps.Sink.ReportState(st)
	}
}

// State returns the latest snapshot. Safe for concurrent use.
func (l *Loop) State() telemetry.State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// Ready reports whether at least one tick has produced a snapshot.
func (l *Loop) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.latest.Time.IsZero()
}
