// Package mqttlink connects the daemon to an MQTT broker: state and alerts
// go out, commands and weather reports come in.
package mqttlink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/control"
	"github.com/dokzlo13/greenhoused/internal/eventbus"
	"github.com/dokzlo13/greenhoused/internal/weather"
)

// Topic suffixes under the configured prefix.
const (
	TopicState   = "state"
	TopicAlerts  = "alerts"
	TopicEvents  = "events"
	TopicCommand = "command"
	TopicWeather = "weather"
)

const publishTimeout = 5 * time.Second

// Options configure the link.
type Options struct {
	Broker       string
	ClientID     string
	Username     string
	Password     string
	Prefix       string
	QoS          byte
	ConnectRetry time.Duration
	// MaxAttempts bounds the initial connect; zero retries until ctx ends.
	MaxAttempts int
	// Now stamps inbound weather reports. It must be the clock the
	// control loop evaluates staleness with. Defaults to time.Now.
	Now func() time.Time
}

// Submitter accepts commands for the control loop.
type Submitter interface {
	Submit(control.Command) error
}

// WeatherFeed accepts weather reports.
type WeatherFeed interface {
	Feed(weather.Report)
}

// Link owns the MQTT client.
type Link struct {
	opts     Options
	client   mqtt.Client
	commands Submitter
	weather  WeatherFeed
	now      func() time.Time
}

// New creates a link. Call Connect before publishing.
func New(opts Options, commands Submitter, feed WeatherFeed) *Link {
	if opts.ConnectRetry <= 0 {
		opts.ConnectRetry = 5 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Link{opts: opts, commands: commands, weather: feed, now: now}

	co := mqtt.NewClientOptions().AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectRetryInterval(opts.ConnectRetry)
	co.SetWill(l.topic(TopicState+"/online"), "false", opts.QoS, true)
	co.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", opts.Broker).Msg("Connected to MQTT broker")
		if err := l.subscribe(); err != nil {
			log.Error().Err(err).Msg("Failed to subscribe to MQTT topics")
		}
		l.publish(TopicState+"/online", true, []byte("true"))
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})
	l.client = mqtt.NewClient(co)
	return l
}

func (l *Link) topic(suffix string) string {
	if l.opts.Prefix == "" {
		return suffix
	}
	return l.opts.Prefix + "/" + suffix
}

// Connect dials the broker, retrying every ConnectRetry until it succeeds,
// MaxAttempts is reached or ctx ends.
func (l *Link) Connect(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		token := l.client.Connect()
		if token.WaitTimeout(l.opts.ConnectRetry) && token.Error() == nil {
			return nil
		}
		err := token.Error()
		if err == nil {
			err = fmt.Errorf("connect timed out after %s", l.opts.ConnectRetry)
		}
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("broker", l.opts.Broker).
			Msg("Failed to connect to MQTT broker")
		if l.opts.MaxAttempts > 0 && attempt >= l.opts.MaxAttempts {
			return fmt.Errorf("mqtt connect to %s: %w", l.opts.Broker, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.ConnectRetry):
		}
	}
}

func (l *Link) subscribe() error {
	routes := map[string]mqtt.MessageHandler{
		l.topic(TopicCommand): l.handleCommand,
		l.topic(TopicWeather): l.handleWeather,
	}
	for topic, handler := range routes {
		token := l.client.Subscribe(topic, l.opts.QoS, handler)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("subscribe %s: timed out", topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		log.Debug().Str("topic", topic).Msg("Subscribed")
	}
	return nil
}

func (l *Link) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := control.ParseCommand(msg.Payload())
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Invalid command")
		return
	}
	if err := l.commands.Submit(cmd); err != nil {
		log.Warn().Err(err).Str("command", cmd.String()).Msg("Command not queued")
	}
}

func (l *Link) handleWeather(_ mqtt.Client, msg mqtt.Message) {
	var r weather.Report
	if err := json.Unmarshal(msg.Payload(), &r); err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Invalid weather report")
		r = weather.Report{Error: "invalid report: " + err.Error()}
	}
	r.At = l.now()
	l.weather.Feed(r)
}

// Attach publishes bus events: state (retained), alerts and the structured
// transition, power switch and budget events.
func (l *Link) Attach(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeState, func(ev eventbus.Event) {
		l.publishJSON(TopicState, true, ev.Payload)
	})
	bus.Subscribe(eventbus.EventTypeAlert, func(ev eventbus.Event) {
		l.publishJSON(TopicAlerts, false, ev.Payload)
	})
	for _, et := range []eventbus.EventType{
		eventbus.EventTypeTransition,
		eventbus.EventTypePowerSwitch,
		eventbus.EventTypeBudget,
	} {
		suffix := TopicEvents + "/" + string(et)
		bus.Subscribe(et, func(ev eventbus.Event) {
			l.publishJSON(suffix, false, ev.Payload)
		})
	}
}

func (l *Link) publishJSON(suffix string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("topic", suffix).Msg("Failed to marshal MQTT payload")
		return
	}
	l.publish(suffix, retained, payload)
}

func (l *Link) publish(suffix string, retained bool, payload []byte) {
	topic := l.topic(suffix)
	if !l.client.IsConnected() {
		log.Debug().Str("topic", topic).Msg("MQTT not connected, dropping message")
		return
	}
	token := l.client.Publish(topic, l.opts.QoS, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Warn().Str("topic", topic).Msg("MQTT publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish failed")
	}
}

// Close marks the daemon offline and disconnects.
func (l *Link) Close() {
	if !l.client.IsConnected() {
		return
	}
	l.publish(TopicState+"/online", true, []byte("false"))
	l.client.Disconnect(250)
	log.Info().Msg("Disconnected from MQTT broker")
}
