package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/config"
	"github.com/dokzlo13/greenhoused/internal/hal"
	"github.com/dokzlo13/greenhoused/internal/hal/raspi"
	"github.com/dokzlo13/greenhoused/internal/hal/sim"
)

// simStep is how often the simulated greenhouse advances in test mode.
const simStep = time.Second

// Hardware bundles the sensor, actuator and time ports with their lifecycle.
type Hardware struct {
	Sensors   hal.SensorProvider
	Actuators hal.ActuatorDriver
	Clock     hal.TimeSource
	Now       func() time.Time
	Sleep     func(time.Duration)

	start func(ctx context.Context) error
	close func() error
}

// Start brings the hardware up. In test mode it starts the physics model.
func (h *Hardware) Start(ctx context.Context) error {
	if h.start == nil {
		return nil
	}
	return h.start(ctx)
}

// Close releases all outputs.
func (h *Hardware) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

func newHardware(cfg *config.Config) *Hardware {
	loc := cfg.DayNight.Location()
	if cfg.TestMode {
		return newSimHardware(loc)
	}

	board := raspi.New(cfg.Hardware)
	return &Hardware{
		Sensors:   board,
		Actuators: board,
		Clock:     hal.NewSystemClock(loc),
		Now:       time.Now,
		Sleep:     time.Sleep,
		start: func(context.Context) error {
			if err := board.Start(); err != nil {
				return fmt.Errorf("start board: %w", err)
			}
			log.Info().Msg("Raspberry Pi board started")
			return nil
		},
		close: board.Close,
	}
}

func newSimHardware(loc *time.Location) *Hardware {
	clock := sim.NewClock(loc)
	clock.Set(time.Now())
	g := sim.New(clock)

	return &Hardware{
		Sensors:   g,
		Actuators: g,
		Clock:     clock,
		Now:       clock.Now,
		Sleep:     g.Sleep,
		start: func(ctx context.Context) error {
			go g.Run(simStep, ctx.Done())
			log.Warn().Msg("Test mode: driving the simulated greenhouse")
			return nil
		},
	}
}
