// Package raspi drives the greenhouse from a Raspberry Pi through gobot:
// GPIO relays and indicator LEDs, an SHT2x air sensor and an ADS1115 ADC
// for the analog temperature probes and source voltages.
package raspi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/dokzlo13/greenhoused/internal/config"
	"github.com/dokzlo13/greenhoused/internal/hal"
)

// relay is a relay output that may be wired active-low.
type relay struct {
	*gpio.RelayDriver
	activeLow bool
}

func (r relay) set(on bool) error {
	if on != r.activeLow {
		return r.On()
	}
	return r.Off()
}

func (r relay) engaged() bool {
	return r.State() != r.activeLow
}

// Board implements hal.SensorProvider and hal.ActuatorDriver.
type Board struct {
	adaptor *raspi.Adaptor
	relays  map[hal.Channel]relay
	leds    map[hal.Indicator]*gpio.LedDriver
	ventOp  relay
	ventCl  relay
	sht     *i2c.SHT2xDriver
	adc     *i2c.ADS1x15Driver
	inputs  config.ADCChannelConfig

	// mu serialises bus access between the control loop and status reads.
	mu       sync.Mutex
	selected hal.Source
	sleep    func(time.Duration)
}

// New wires drivers for cfg. Call Start before use.
func New(cfg config.HardwareConfig) *Board {
	a := raspi.NewAdaptor()
	b := &Board{
		adaptor: a,
		relays:  make(map[hal.Channel]relay, len(cfg.Relays)),
		leds:    make(map[hal.Indicator]*gpio.LedDriver, len(cfg.Indicators)),
		ventOp:  relay{gpio.NewRelayDriver(a, cfg.VentOpen), cfg.ActiveLow},
		ventCl:  relay{gpio.NewRelayDriver(a, cfg.VentClose), cfg.ActiveLow},
		sht:     i2c.NewSHT2xDriver(a),
		adc:     i2c.NewADS1115Driver(a, i2c.WithAddress(cfg.ADCAddress)),
		inputs:  cfg.ADCChannels,
		sleep:   time.Sleep,
	}
	for name, pin := range cfg.Relays {
		b.relays[hal.Channel(name)] = relay{gpio.NewRelayDriver(a, pin), cfg.ActiveLow}
	}
	for name, pin := range cfg.Indicators {
		b.leds[hal.Indicator(name)] = gpio.NewLedDriver(a, pin)
	}
	return b
}

// Start connects the adaptor, starts every driver and releases all relays.
func (b *Board) Start() error {
	if err := b.adaptor.Connect(); err != nil {
		return fmt.Errorf("connect raspi adaptor: %w", err)
	}
	starters := []interface{ Start() error }{b.sht, b.adc, b.ventOp, b.ventCl}
	for _, r := range b.relays {
		starters = append(starters, r)
	}
	for _, l := range b.leds {
		starters = append(starters, l)
	}
	for _, s := range starters {
		if err := s.Start(); err != nil {
			return fmt.Errorf("start driver: %w", err)
		}
	}
	return b.releaseAll()
}

func (b *Board) releaseAll() error {
	var errs []error
	for ch, r := range b.relays {
		if err := r.set(false); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
		}
	}
	for _, r := range []relay{b.ventOp, b.ventCl} {
		if err := r.set(false); err != nil {
			errs = append(errs, err)
		}
	}
	for id, l := range b.leds {
		if err := l.Off(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases every output and the adaptor.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.releaseAll(), b.adaptor.Finalize())
}

func (b *Board) analog(in config.AnalogInput) hal.Reading {
	if in.Channel < 0 {
		return hal.Unknown
	}
	v, err := b.adc.ReadWithDefaults(in.Channel)
	if err != nil {
		log.Debug().Err(err).Int("channel", in.Channel).Msg("ADC read failed")
		return hal.Unknown
	}
	return calibrate(v, in)
}

func calibrate(volts float64, in config.AnalogInput) hal.Reading {
	scale := in.Scale
	if scale == 0 {
		scale = 1
	}
	return hal.Known(volts*scale + in.Offset)
}

// Read implements hal.SensorProvider.
func (b *Board) Read(_ context.Context) hal.SensorSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := hal.SensorSnapshot{
		InsideAirTemp:      hal.Unknown,
		InsideAirHumidity:  hal.Unknown,
		OutsideAirTemp:     hal.Unknown,
		OutsideAirHumidity: hal.Unknown,
		SoilTemp:           b.analog(b.inputs.SoilTemp),
		WaterTemp:          b.analog(b.inputs.WaterTemp),
		SoilMoistureRaw:    b.analog(b.inputs.SoilMoisture),
		SourceVoltages: map[hal.Source]hal.Reading{
			hal.SourceBattery: b.analog(b.inputs.Battery),
			hal.SourcePSU:     b.analog(b.inputs.PSU),
			hal.SourceSolar:   b.analog(b.inputs.Solar),
		},
	}
	if t, err := b.sht.Temperature(); err == nil {
		snap.InsideAirTemp = hal.Known(float64(t))
	} else {
		log.Debug().Err(err).Msg("SHT2x temperature read failed")
	}
	if h, err := b.sht.Humidity(); err == nil {
		snap.InsideAirHumidity = hal.Known(float64(h))
	} else {
		log.Debug().Err(err).Msg("SHT2x humidity read failed")
	}
	return snap
}

// SetSwitch implements hal.ActuatorDriver.
func (b *Board) SetSwitch(ch hal.Channel, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.relays[ch]
	if !ok {
		return fmt.Errorf("no relay wired for %s", ch)
	}
	return r.set(on)
}

// DriveVent implements hal.ActuatorDriver. It blocks for d.
func (b *Board) DriveVent(dir hal.VentDirection, d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	run, idle := b.ventOp, b.ventCl
	if dir == hal.VentClose {
		run, idle = b.ventCl, b.ventOp
	}
	if err := idle.set(false); err != nil {
		return err
	}
	if err := run.set(true); err != nil {
		return err
	}
	b.sleep(d)
	return run.set(false)
}

// SelectPowerSource implements hal.ActuatorDriver. Loads are fed through a
// diode-OR of the engaged source relays, so selection only records the
// choice once the relay is engaged.
func (b *Board) SelectPowerSource(src hal.Source) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.relays[hal.SourceChannel(src)]
	if !ok {
		return fmt.Errorf("no relay wired for source %s", src)
	}
	if !r.engaged() {
		return fmt.Errorf("source %s is not engaged", src)
	}
	b.selected = src
	return nil
}

// SetIndicator implements hal.ActuatorDriver. Unwired indicators are ignored.
func (b *Board) SetIndicator(id hal.Indicator, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.leds[id]
	if !ok {
		return nil
	}
	if on {
		return l.On()
	}
	return l.Off()
}
