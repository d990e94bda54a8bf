package mqttlink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/greenhoused/internal/control"
	"github.com/dokzlo13/greenhoused/internal/eventbus"
	"github.com/dokzlo13/greenhoused/internal/telemetry"
	"github.com/dokzlo13/greenhoused/internal/weather"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mqtt.Client

	mu          sync.Mutex
	connected   bool
	connectErrs []error
	connects    int
	published   []published
	subscribed  map[string]mqtt.MessageHandler
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		return doneToken{err: err}
	}
	c.connected = true
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed == nil {
		c.subscribed = make(map[string]mqtt.MessageHandler)
	}
	c.subscribed[topic] = cb
	return doneToken{}
}

func (c *fakeClient) byTopic(topic string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, p := range c.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type submitter struct{ cmds []control.Command }

func (s *submitter) Submit(c control.Command) error {
	s.cmds = append(s.cmds, c)
	return nil
}

type feed struct{ reports []weather.Report }

func (f *feed) Feed(r weather.Report) { f.reports = append(f.reports, r) }

var t0 = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func newLink(t *testing.T) (*Link, *fakeClient, *submitter, *feed) {
	t.Helper()
	s, f := &submitter{}, &feed{}
	l := New(Options{Broker: "tcp://localhost:1883", ClientID: "test", Prefix: "greenhouse", ConnectRetry: time.Millisecond}, s, f)
	fc := &fakeClient{}
	l.client = fc
	l.now = func() time.Time { return t0 }
	return l, fc, s, f
}

func TestConnect_RetriesUntilMaxAttempts(t *testing.T) {
	l, fc, _, _ := newLink(t)
	l.opts.MaxAttempts = 2
	fc.connectErrs = []error{errors.New("refused"), errors.New("refused"), errors.New("refused")}

	err := l.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, fc.connects)
}

func TestConnect_SucceedsAfterRetry(t *testing.T) {
	l, fc, _, _ := newLink(t)
	fc.connectErrs = []error{errors.New("refused")}

	require.NoError(t, l.Connect(context.Background()))
	assert.Equal(t, 2, fc.connects)
	assert.True(t, fc.IsConnected())
}

func TestConnect_StopsOnContext(t *testing.T) {
	l, fc, _, _ := newLink(t)
	l.opts.ConnectRetry = time.Hour
	fc.connectErrs = []error{errors.New("refused")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Connect(ctx), context.Canceled)
}

func TestInboundCommandAndWeather(t *testing.T) {
	l, fc, s, f := newLink(t)
	require.NoError(t, l.subscribe())
	require.Contains(t, fc.subscribed, "greenhouse/command")
	require.Contains(t, fc.subscribed, "greenhouse/weather")

	fc.subscribed["greenhouse/command"](fc, fakeMessage{topic: "greenhouse/command", payload: []byte(`{"type":"set_manual_vent","percent":30}`)})
	fc.subscribed["greenhouse/command"](fc, fakeMessage{topic: "greenhouse/command", payload: []byte(`{"type":"nope"}`)})
	assert.Equal(t, []control.Command{control.SetManualVent{Percent: 30}}, s.cmds)

	fc.subscribed["greenhouse/weather"](fc, fakeMessage{topic: "greenhouse/weather", payload: []byte(`{"code":701}`)})
	fc.subscribed["greenhouse/weather"](fc, fakeMessage{topic: "greenhouse/weather", payload: []byte(`garbage`)})
	require.Len(t, f.reports, 2)
	assert.Equal(t, weather.Report{Code: 701, At: t0}, f.reports[0])
	assert.NotEmpty(t, f.reports[1].Error)
}

func TestWeatherStampedWithConfiguredClock(t *testing.T) {
	simNow := t0.Add(3 * time.Hour)
	f := &feed{}
	l := New(Options{Broker: "tcp://localhost:1883", Prefix: "greenhouse", Now: func() time.Time { return simNow }}, &submitter{}, f)
	fc := &fakeClient{}
	l.client = fc
	require.NoError(t, l.subscribe())

	fc.subscribed["greenhouse/weather"](fc, fakeMessage{topic: "greenhouse/weather", payload: []byte(`{"code":500}`)})
	require.Len(t, f.reports, 1)
	assert.Equal(t, simNow, f.reports[0].At)
}

func TestAttachPublishesBusEvents(t *testing.T) {
	l, fc, _, _ := newLink(t)
	fc.connected = true

	bus := eventbus.NewWithConfig(1, 16)
	l.Attach(bus)
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeState, Payload: telemetry.State{BootID: "b1", Phase: "day"}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeAlert, Payload: telemetry.Alert{Level: telemetry.LevelWarning, Message: "x"}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypePowerSwitch, Payload: telemetry.PowerSwitchEvent{To: "battery"}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Close(ctx)

	state := fc.byTopic("greenhouse/state")
	require.Len(t, state, 1)
	assert.True(t, state[0].retained)
	var st telemetry.State
	require.NoError(t, json.Unmarshal(state[0].payload, &st))
	assert.Equal(t, "b1", st.BootID)

	alerts := fc.byTopic("greenhouse/alerts")
	require.Len(t, alerts, 1)
	assert.False(t, alerts[0].retained)
	assert.JSONEq(t, `{"level":"warning","message":"x","time":"0001-01-01T00:00:00Z"}`, string(alerts[0].payload))

	assert.Len(t, fc.byTopic("greenhouse/events/power_switch"), 1)
}

func TestPublishSkippedWhenDisconnected(t *testing.T) {
	l, fc, _, _ := newLink(t)
	l.publishJSON(TopicState, true, map[string]int{"a": 1})
	assert.Empty(t, fc.published)

	l.Close()
	assert.Empty(t, fc.published)
}

func TestCloseMarksOffline(t *testing.T) {
	l, fc, _, _ := newLink(t)
	fc.connected = true

	l.Close()
	offline := fc.byTopic("greenhouse/state/online")
	require.Len(t, offline, 1)
	assert.Equal(t, "false", string(offline[0].payload))
	assert.False(t, fc.IsConnected())
}
