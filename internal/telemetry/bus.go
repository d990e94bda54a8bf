package telemetry

import (
	"time"

	"github.com/dokzlo13/greenhoused/internal/eventbus"
)

// BusSink publishes reports and events on the event bus.
type BusSink struct {
	bus *eventbus.Bus
	now func() time.Time
}

// NewBusSink creates a sink publishing on bus.
func NewBusSink(bus *eventbus.Bus) *BusSink {
	return &BusSink{bus: bus, now: time.Now}
}

func (s *BusSink) alert(level Level, msg string) {
	now := s.now()
	s.bus.Publish(eventbus.Event{
		Type:    eventbus.EventTypeAlert,
		Time:    now,
		Payload: Alert{Level: level, Message: msg, Time: now},
	})
}

func (s *BusSink) ReportInfo(msg string)     { s.alert(LevelInfo, msg) }
func (s *BusSink) ReportWarning(msg string)  { s.alert(LevelWarning, msg) }
func (s *BusSink) ReportCritical(msg string) { s.alert(LevelCritical, msg) }

func (s *BusSink) ReportState(st State) {
	s.bus.Publish(eventbus.Event{Type: eventbus.EventTypeState, Time: st.Time, Payload: st})
}

func (s *BusSink) RecordTransition(ev TransitionEvent) {
	s.bus.Publish(eventbus.Event{Type: eventbus.EventTypeTransition, Time: s.now(), Payload: ev})
}

func (s *BusSink) RecordPowerSwitch(ev PowerSwitchEvent) {
	s.bus.Publish(eventbus.Event{Type: eventbus.EventTypePowerSwitch, Time: s.now(), Payload: ev})
}

func (s *BusSink) RecordBudget(ev BudgetEvent) {
	s.bus.Publish(eventbus.Event{Type: eventbus.EventTypeBudget, Time: s.now(), Payload: ev})
}
