// Package scheduler runs interval tasks cooperatively on one goroutine, so
// no two tasks ever execute at the same time.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TaskFunc is the body of a task. now is the scheduled run time.
type TaskFunc func(ctx context.Context, now time.Time)

// Task is an interval task. Occurrences stay on the grid start + k*interval;
// occurrences missed while another task ran are skipped, not replayed.
type Task struct {
	name     string
	interval time.Duration
	start    time.Time
	fn       TaskFunc

	next time.Time
	runs int64
}

// Next returns the first grid occurrence strictly after the given time.
func (t *Task) Next(after time.Time) time.Time {
	if after.Before(t.start) {
		return t.start
	}
	ticks := int64(after.Sub(t.start) / t.interval)
	return t.start.Add(time.Duration(ticks+1) * t.interval)
}

// Name of the task.
func (t *Task) Name() string { return t.name }

// Interval of the task.
func (t *Task) Interval() time.Duration { return t.interval }

// Scheduler owns a set of interval tasks.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*Task
	now   func() time.Time

	reschedule chan struct{}
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		now:        time.Now,
		reschedule: make(chan struct{}, 1),
	}
}

// Every registers fn to run now and then every interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) *Task {
	if interval <= 0 {
		interval = time.Second
	}
	now := s.now()
	t := &Task{name: name, interval: interval, start: now, fn: fn, next: now}

	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()

	log.Debug().
		Str("task", name).
		Dur("interval", interval).
		Msg("Task registered")

	s.notifyReschedule()
	return t
}

// Runs returns how many times the named task has run.
func (s *Scheduler) Runs(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.name == name {
			return t.runs
		}
	}
	return 0
}

func (s *Scheduler) notifyReschedule() {
	select {
	case s.reschedule <- struct{}{}:
	default:
	}
}

// Run starts the scheduler loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Msg("Scheduler started")

	for {
		sleepDuration := time.Hour // default if no tasks
		if due, ok := s.nextDue(); ok {
			sleepDuration = due.Sub(s.now())
			if sleepDuration < 0 {
				sleepDuration = 0
			}
		}

		timer := time.NewTimer(sleepDuration)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Scheduler stopping")
			return nil

		case <-s.reschedule:
			timer.Stop()
			continue

		case <-timer.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) nextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest time.Time
	for _, t := range s.tasks {
		if earliest.IsZero() || t.next.Before(earliest) {
			earliest = t.next
		}
	}
	return earliest, !earliest.IsZero()
}

// runDue runs every task whose occurrence has passed, earliest first.
func (s *Scheduler) runDue(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	var due []*Task
	for _, t := range s.tasks {
		if !t.next.After(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].next.Before(due[j].next) })

	for _, t := range due {
		if ctx.Err() != nil {
			return
		}
		at := t.next
		started := s.now()
		t.fn(ctx, at)
		finished := s.now()

		if overrun := finished.Sub(started); overrun > t.interval {
			log.Warn().
				Str("task", t.name).
				Dur("took", overrun).
				Dur("interval", t.interval).
				Msg("Task overran its interval, skipping missed occurrences")
		}

		s.mu.Lock()
		t.runs++
		t.next = t.Next(finished)
		s.mu.Unlock()
	}
}
