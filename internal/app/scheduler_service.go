package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/config"
	"github.com/dokzlo13/greenhoused/internal/control"
	"github.com/dokzlo13/greenhoused/internal/ledger"
	"github.com/dokzlo13/greenhoused/internal/scheduler"
)

// Task names.
const (
	TaskControl       = "control"
	TaskPower         = "power"
	TaskLedgerCleanup = "ledger_cleanup"
)

// SchedulerService runs the control tick, the power tick and housekeeping
// on one scheduler goroutine.
type SchedulerService struct {
	cfg       *config.Config
	Scheduler *scheduler.Scheduler
	loop      *control.Loop
	ledger    *ledger.Ledger
	started   bool
	done      chan struct{}
}

// NewSchedulerService creates a new SchedulerService. l may be nil when the
// ledger is disabled.
func NewSchedulerService(cfg *config.Config, loop *control.Loop, l *ledger.Ledger) *SchedulerService {
	return &SchedulerService{
		cfg:       cfg,
		Scheduler: scheduler.New(),
		loop:      loop,
		ledger:    l,
		done:      make(chan struct{}),
	}
}

// Start registers the tasks and runs the scheduler until ctx is cancelled.
func (s *SchedulerService) Start(ctx context.Context) {
	s.Scheduler.Every(TaskControl, s.cfg.Control.TickInterval.Duration(), s.runControl)
	s.Scheduler.Every(TaskPower, s.cfg.Control.PowerInterval.Duration(), s.runPower)
	if s.ledger != nil {
		s.Scheduler.Every(TaskLedgerCleanup, s.cfg.Ledger.CleanupInterval.Duration(), s.runLedgerCleanup)
	}

	s.started = true
	go func() {
		defer close(s.done)
		if err := s.Scheduler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduler error")
		}
	}()
}

// Wait blocks until the scheduler goroutine has returned.
func (s *SchedulerService) Wait() {
	if !s.started {
		return
	}
	<-s.done
}

func (s *SchedulerService) runControl(ctx context.Context, _ time.Time) {
	if err := s.loop.Tick(ctx); err != nil {
		logTickError(TaskControl, err)
	}
}

func (s *SchedulerService) runPower(ctx context.Context, _ time.Time) {
	if err := s.loop.PowerTick(ctx); err != nil {
		logTickError(TaskPower, err)
	}
}

func logTickError(task string, err error) {
	if errors.Is(err, control.ErrBusy) {
		log.Warn().Str("task", task).Msg("Previous tick still running, skipping")
		return
	}
	log.Debug().Err(err).Str("task", task).Msg("Tick finished with error")
}

// runLedgerCleanup removes ledger entries past the retention period.
func (s *SchedulerService) runLedgerCleanup(_ context.Context, now time.Time) {
	retention := s.cfg.Ledger.Retention.Duration()
	deleted, err := s.ledger.DeleteOlderThan(now, retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
	}
}
