package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/config"
	"github.com/dokzlo13/greenhoused/internal/control"
	"github.com/dokzlo13/greenhoused/internal/daynight"
	"github.com/dokzlo13/greenhoused/internal/db"
	"github.com/dokzlo13/greenhoused/internal/eventbus"
	"github.com/dokzlo13/greenhoused/internal/ledger"
	"github.com/dokzlo13/greenhoused/internal/mqttlink"
	"github.com/dokzlo13/greenhoused/internal/state"
	"github.com/dokzlo13/greenhoused/internal/telemetry"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// BootID tags every ledger entry and state snapshot of this run.
	BootID string

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger
	Store    *state.Store
	Bus      *eventbus.Bus
	Hardware *Hardware

	// Control
	Controllers *Controllers
	Loop        *control.Loop
	records     *recordStore

	// High-level services
	Events    *EventService
	Scheduler *SchedulerService
	MQTT      *mqttlink.Link
	Status    *StatusService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg, BootID: uuid.NewString()}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	if cfg.Ledger.IsEnabled() {
		s.Ledger = ledger.New(database.DB, s.BootID)
	}

	s.Store = state.NewStore(database.DB)
	s.records = newRecordStore(s.Store)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Hardware = newHardware(cfg)

	s.Controllers, err = newControllers(cfg, s.Hardware)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("build controllers: %w", err)
	}

	c := s.Controllers
	if rec, ok, err := s.records.Load(); err != nil {
		log.Warn().Err(err).Msg("Failed to load transition record, starting fresh")
	} else if ok {
		c.DayNight.Restore(rec)
		log.Info().
			Int64("last_night_to_day", rec.LastNightToDay).
			Int64("last_day_to_night", rec.LastDayToNight).
			Msg("Restored transition record")
	}

	busSink := telemetry.NewBusSink(s.Bus)
	s.Loop = control.New(control.Deps{
		Sensors:  s.Hardware.Sensors,
		Clock:    s.Hardware.Clock,
		DayNight: c.DayNight,
		Heating:  c.Heating,
		Vent:     c.Vent,
		Power:    c.Power,
		Weather:  c.Weather,
		Sink:     telemetry.Multi{telemetry.LogSink{}, busSink},
		Recorder: busSink,
		Records:  s.records,
		Now:      s.Hardware.Now,
		BootID:   s.BootID,
	}, control.Options{
		ReportInterval: cfg.Control.ReportInterval.Duration(),
		QueueSize:      cfg.Control.CommandQueue,
	})

	if s.Ledger != nil {
		s.Events = NewEventService(s.Ledger)
		s.Events.Subscribe(s.Bus)
	}

	if cfg.MQTT.Enabled {
		m := cfg.MQTT
		s.MQTT = mqttlink.New(mqttlink.Options{
			Broker:       m.Broker,
			ClientID:     m.ClientID + "-" + s.BootID[:8],
			Username:     m.Username,
			Password:     m.Password,
			Prefix:       m.TopicPrefix,
			QoS:          m.QoS,
			ConnectRetry: m.ConnectRetry.Duration(),
			MaxAttempts:  m.MaxReconnects,
			Now:          s.Hardware.Now,
		}, s.Loop, c.Weather)
		s.MQTT.Attach(s.Bus)
	}

	s.Scheduler = NewSchedulerService(cfg, s.Loop, s.Ledger)
	s.Status = NewStatusService(cfg, s.Loop, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., the status port is taken).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	if err := s.Hardware.Start(ctx); err != nil {
		return err
	}

	// Control runs without a broker; the link keeps reconnecting once it is up.
	if s.MQTT != nil {
		go func() {
			if err := s.MQTT.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("MQTT unavailable, continuing without remote telemetry")
			}
		}()
	}

	s.Scheduler.Start(ctx)
	s.Status.Start(ctx, onFatalError)

	return nil
}

// ClearState forgets the saved transition record, so the next tick
// bootstraps the day/night clock.
func (s *Services) ClearState() error {
	s.Controllers.DayNight.Restore(daynight.Record{})
	return s.records.Clear()
}

// Stop gracefully stops all services. The context passed to Start must be
// cancelled first.
func (s *Services) Stop() error {
	if s.Scheduler != nil {
		s.Scheduler.Wait()
	}
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		s.Bus.Close(ctx)
		cancel()
		if dropped := s.Bus.Dropped(); dropped > 0 {
			log.Warn().Int64("dropped", dropped).Msg("Event bus dropped events")
		}
	}
	if s.Hardware != nil {
		if err := s.Hardware.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release hardware")
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
