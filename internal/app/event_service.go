package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/eventbus"
	"github.com/dokzlo13/greenhoused/internal/ledger"
	"github.com/dokzlo13/greenhoused/internal/telemetry"
)

// EventService writes control-loop events from the bus into the ledger.
type EventService struct {
	ledger *ledger.Ledger
}

// NewEventService creates a new EventService.
func NewEventService(l *ledger.Ledger) *EventService {
	return &EventService{ledger: l}
}

// Subscribe registers the ledger handlers on bus.
func (s *EventService) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeTransition, s.onTransition)
	bus.Subscribe(eventbus.EventTypePowerSwitch, s.onPowerSwitch)
	bus.Subscribe(eventbus.EventTypeBudget, s.onBudget)
	bus.Subscribe(eventbus.EventTypeAlert, s.onAlert)
}

func (s *EventService) onTransition(ev eventbus.Event) {
	tr, ok := ev.Payload.(telemetry.TransitionEvent)
	if !ok {
		return
	}
	s.append(ledger.EventTransition, ev, tr)

	if tr.EndedPeriod == "" {
		return
	}
	err := s.ledger.RecordPeriod(ledger.PeriodTotal{
		Period:         tr.EndedPeriod,
		EndedAt:        ev.Time,
		RuntimeSeconds: tr.Ended.RuntimeSeconds,
		Cost:           tr.Ended.Cost,
		Exhausted:      tr.Ended.Exhausted,
	})
	if err != nil {
		log.Error().Err(err).Str("period", tr.EndedPeriod).Msg("Failed to record period totals")
	}
}

func (s *EventService) onPowerSwitch(ev eventbus.Event) {
	ps, ok := ev.Payload.(telemetry.PowerSwitchEvent)
	if !ok {
		return
	}
	eventType := ledger.EventPowerSwitch
	if ps.Aborted {
		eventType = ledger.EventPowerSwitchAborted
	}
	s.append(eventType, ev, ps)
}

func (s *EventService) onBudget(ev eventbus.Event) {
	s.append(ledger.EventBudgetExhausted, ev, ev.Payload)
}

func (s *EventService) onAlert(ev eventbus.Event) {
	alert, ok := ev.Payload.(telemetry.Alert)
	if !ok {
		return
	}
	switch alert.Level {
	case telemetry.LevelWarning:
		s.append(ledger.EventWarning, ev, alert)
	case telemetry.LevelCritical:
		s.append(ledger.EventCritical, ev, alert)
	}
}

func (s *EventService) append(eventType ledger.EventType, ev eventbus.Event, payload any) {
	if err := s.ledger.Append(eventType, ev.Time, toPayload(payload)); err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to append ledger entry")
	}
}

// toPayload flattens an event struct through its JSON tags.
func toPayload(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"value": string(data)}
	}
	return out
}
