package sim

import (
	"time"

	"github.com/dokzlo13/greenhoused/internal/hal"
)

// Heat transfer coefficients per minute. Coarse on purpose; they only need
// to move temperatures in the right direction for test-mode runs.
const (
	heaterGainPerMin  = 0.8
	waterLossPerMin   = 0.01
	soilFlowPerMin    = 0.03
	airFlowPerMin     = 0.02
	soilLossPerMin    = 0.005
	airLossPerMin     = 0.02
	ventCoolingPerMin = 0.05
)

// Step advances the thermal model by dt of simulated time.
func (g *Greenhouse) Step(dt time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := dt.Minutes()
	pump := g.relays[hal.ChannelCirculationPump]

	if g.relays[hal.ChannelWaterHeater] {
		g.WaterTemp += heaterGainPerMin * m
	}
	g.WaterTemp -= (g.WaterTemp - g.AirTemp) * waterLossPerMin * m

	if pump && g.relays[hal.ChannelSoilValve] {
		d := (g.WaterTemp - g.SoilTemp) * soilFlowPerMin * m
		g.SoilTemp += d
		g.WaterTemp -= d / 2
	}
	g.SoilTemp -= (g.SoilTemp - g.AirTemp) * soilLossPerMin * m

	if pump && g.relays[hal.ChannelAirValve] {
		d := (g.WaterTemp - g.AirTemp) * airFlowPerMin * m
		g.AirTemp += d
		g.WaterTemp -= d / 2
	}
	loss := airLossPerMin + ventCoolingPerMin*g.VentPercent/100
	g.AirTemp -= (g.AirTemp - g.OutsideTemp) * loss * m
}

// Run advances the clock and the model every interval of wall time until
// stop is closed.
func (g *Greenhouse) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if g.clock != nil {
				g.clock.Advance(interval)
			}
			g.Step(interval)
		}
	}
}
