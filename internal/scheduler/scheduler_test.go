package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskNext(t *testing.T) {
	start := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	task := &Task{interval: 10 * time.Second, start: start}

	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{name: "before_start", after: start.Add(-time.Second), want: start},
		{name: "at_start", after: start, want: start.Add(10 * time.Second)},
		{name: "mid_interval", after: start.Add(13 * time.Second), want: start.Add(20 * time.Second)},
		{name: "on_grid", after: start.Add(20 * time.Second), want: start.Add(30 * time.Second)},
		{name: "skips_missed", after: start.Add(95 * time.Second), want: start.Add(100 * time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, task.Next(tt.after))
		})
	}
}

func TestRun_TasksRunAndNeverOverlap(t *testing.T) {
	s := New()

	var inFlight, maxInFlight atomic.Int32
	body := func(d time.Duration) TaskFunc {
		return func(context.Context, time.Time) {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(d)
			inFlight.Add(-1)
		}
	}
	s.Every("main", 20*time.Millisecond, body(5*time.Millisecond))
	s.Every("power", 5*time.Millisecond, body(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Run(ctx))
	}()

	require.Eventually(t, func() bool {
		return s.Runs("main") >= 3 && s.Runs("power") >= 6
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Greater(t, s.Runs("power"), s.Runs("main"))
}

func TestRun_RegisterWhileRunning(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	ran := make(chan time.Time, 1)
	s.Every("late", time.Hour, func(_ context.Context, now time.Time) {
		select {
		case ran <- now:
		default:
		}
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("task registered after Run did not fire")
	}
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, int64(1), s.Runs("late"))
	assert.Zero(t, s.Runs("missing"))
}
