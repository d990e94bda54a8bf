// Package telemetry defines where the control loop reports messages, state
// snapshots and structured events, with a zerolog sink, an event-bus sink
// and a fan-out.
package telemetry

import (
	"time"

	"github.com/dokzlo13/greenhoused/internal/hal"
	"github.com/dokzlo13/greenhoused/internal/heating"
	"github.com/dokzlo13/greenhoused/internal/power"
	"github.com/dokzlo13/greenhoused/internal/vent"
)

// Level of an alert.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Alert is one reported message.
type Alert struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// WeatherState is the weather part of a snapshot.
type WeatherState struct {
	Code     int  `json:"code"`
	Known    bool `json:"known"`
	Raining  bool `json:"raining"`
	Failures int  `json:"failures"`
}

// State is the periodic snapshot pushed to dashboards.
type State struct {
	BootID     string                 `json:"boot_id"`
	Time       time.Time              `json:"time"`
	Phase      string                 `json:"phase"`
	PhaseKnown bool                   `json:"phase_known"`
	Sensors    map[string]hal.Reading `json:"sensors"`
	Heating    heating.State          `json:"heating"`
	Vent       vent.State             `json:"vent"`
	Power      power.State            `json:"power"`
	Weather    WeatherState           `json:"weather"`
}

// Sink receives messages and state snapshots. Implementations must not
// block the control loop.
type Sink interface {
	ReportInfo(msg string)
	ReportWarning(msg string)
	ReportCritical(msg string)
	ReportState(State)
}

// TransitionEvent is a fired day/night transition and the period it closed.
type TransitionEvent struct {
	Direction   string         `json:"direction"`
	Epoch       int64          `json:"epoch"`
	Overdue     bool           `json:"overdue"`
	EndedPeriod string         `json:"ended_period"`
	Ended       heating.Budget `json:"ended"`
}

// PowerSwitchEvent is a completed or aborted source switch.
type PowerSwitchEvent struct {
	From     hal.Source `json:"from"`
	To       hal.Source `json:"to"`
	Reason   string     `json:"reason"`
	Critical bool       `json:"critical"`
	Aborted  bool       `json:"aborted"`
	Error    string     `json:"error,omitempty"`
}

// BudgetEvent reports an exhausted water heater budget.
type BudgetEvent struct {
	Period string         `json:"period"`
	Budget heating.Budget `json:"budget"`
}

// Recorder receives structured events for history and dashboards.
type Recorder interface {
	RecordTransition(TransitionEvent)
	RecordPowerSwitch(PowerSwitchEvent)
	RecordBudget(BudgetEvent)
}

// Multi fans out to several sinks.
type Multi []Sink

func (m Multi) ReportInfo(msg string) {
	for _, s := range m {
		s.ReportInfo(msg)
	}
}

func (m Multi) ReportWarning(msg string) {
	for _, s := range m {
		s.ReportWarning(msg)
	}
}

func (m Multi) ReportCritical(msg string) {
	for _, s := range m {
		s.ReportCritical(msg)
	}
}

func (m Multi) ReportState(st State) {
	for _, s := range m {
		s.ReportState(st)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) ReportInfo(string)                  {}
func (Nop) ReportWarning(string)               {}
func (Nop) ReportCritical(string)              {}
func (Nop) ReportState(State)                  {}
func (Nop) RecordTransition(TransitionEvent)   {}
func (Nop) RecordPowerSwitch(PowerSwitchEvent) {}
func (Nop) RecordBudget(BudgetEvent)           {}
