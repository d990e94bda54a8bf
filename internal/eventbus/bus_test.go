package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func closeBus(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Close(ctx)
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewWithConfig(2, 10)

	var states, alerts atomic.Int32
	b.Subscribe(EventTypeState, func(Event) { states.Add(1) })
	b.Subscribe(EventTypeState, func(Event) { states.Add(1) })
	b.Subscribe(EventTypeAlert, func(Event) { alerts.Add(1) })

	b.Publish(Event{Type: EventTypeState})
	b.Publish(Event{Type: EventTypeAlert})
	b.Publish(Event{Type: EventTypeBudget})
	closeBus(t, b)

	assert.Equal(t, int32(2), states.Load())
	assert.Equal(t, int32(1), alerts.Load())
	assert.Zero(t, b.Dropped())
}

func TestPublishStampsTime(t *testing.T) {
	b := NewWithConfig(1, 1)
	got := make(chan Event, 1)
	b.Subscribe(EventTypeAlert, func(ev Event) { got <- ev })

	b.Publish(Event{Type: EventTypeAlert})
	ev := <-got
	assert.False(t, ev.Time.IsZero())
	closeBus(t, b)
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := NewWithConfig(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	b.Subscribe(EventTypeState, func(Event) {
		once.Do(func() { close(started) })
		<-release
	})

	b.Publish(Event{Type: EventTypeState}) // taken by the worker
	<-started
	b.Publish(Event{Type: EventTypeState}) // queued
	b.Publish(Event{Type: EventTypeState}) // dropped
	assert.Equal(t, int64(1), b.Dropped())

	close(release)
	closeBus(t, b)
}

func TestPublishAfterCloseDrops(t *testing.T) {
	b := NewWithConfig(1, 4)
	var calls atomic.Int32
	b.Subscribe(EventTypeState, func(Event) { calls.Add(1) })
	closeBus(t, b)
	closeBus(t, b)

	assert.NotPanics(t, func() { b.Publish(Event{Type: EventTypeState}) })
	assert.Zero(t, calls.Load())
	assert.Equal(t, int64(1), b.Dropped())
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	b := NewWithConfig(1, 4)
	var after atomic.Int32
	b.Subscribe(EventTypeAlert, func(Event) { panic("boom") })
	b.Subscribe(EventTypeAlert, func(Event) { after.Add(1) })

	b.Publish(Event{Type: EventTypeAlert})
	closeBus(t, b)
	assert.Equal(t, int32(1), after.Load())
}
