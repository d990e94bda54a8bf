package app

import (
	"time"

	"github.com/dokzlo13/greenhoused/internal/config"
	"github.com/dokzlo13/greenhoused/internal/daynight"
	"github.com/dokzlo13/greenhoused/internal/hal"
	"github.com/dokzlo13/greenhoused/internal/heating"
	"github.com/dokzlo13/greenhoused/internal/power"
	"github.com/dokzlo13/greenhoused/internal/vent"
	"github.com/dokzlo13/greenhoused/internal/weather"
)

// Controllers are the decision makers of one greenhouse bay.
type Controllers struct {
	DayNight *daynight.Clock
	Heating  *heating.Controller
	Vent     *vent.Controller
	Power    *power.Arbiter
	Weather  *weather.Tracker
}

func newControllers(cfg *config.Config, hw *Hardware) (*Controllers, error) {
	mode, err := power.ParseMode(cfg.Power.Mode)
	if err != nil {
		return nil, err
	}

	var ventOpts []vent.Option
	if !cfg.Vent.IsAuto() {
		ventOpts = append(ventOpts, vent.WithManual(cfg.Vent.ManualPercent))
	}

	dn := cfg.DayNight
	c := &Controllers{
		DayNight: daynight.New(hw.Clock, dn.DayStartHour, dn.DayEndHour, dn.Location()),
		Heating:  heating.New(hw.Actuators, heatingSettings(cfg.Heating), cfg.Heating.IsEnabled()),
		Vent:     vent.New(hw.Actuators, ventSettings(cfg.Vent), ventOpts...),
		Power:    power.New(hw.Actuators, hw.Sensors, powerSettings(cfg.Power), mode, power.WithSleep(hw.Sleep)),
	}
	// Weather reports only arrive over MQTT. Without a feed the tracker
	// would count every tick as a failure.
	if cfg.MQTT.Enabled {
		w := cfg.Weather
		c.Weather = weather.NewTracker(rainCodes(w.RainCodes), w.FailureThreshold, w.MaxAge.Duration())
	}
	return c, nil
}

func setpoints(s config.Setpoints) heating.Setpoints {
	return heating.Setpoints{Water: s.Water, Soil: s.Soil, Air: s.Air}
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func heatingSettings(c config.HeatingConfig) heating.Settings {
	return heating.Settings{
		Day:        setpoints(c.Day),
		Night:      setpoints(c.Night),
		Margins:    setpoints(c.Margins),
		SoilDelta:  c.MinDelta.Soil,
		AirDelta:   c.MinDelta.Air,
		DayLimit:   minutes(c.WaterDayLimitMin),
		NightLimit: minutes(c.WaterNightLimitMin),
		HeaterKW:   c.WaterHeaterKW,
		EnergyRate: c.EnergyRate,
	}
}

func ventSettings(c config.VentConfig) vent.Settings {
	return vent.Settings{
		OpenStart:   c.OpenStartTemp,
		OpenFinish:  c.OpenFinishTemp,
		Positions:   c.PositionsCount,
		Runtime:     c.ActuatorRuntime.Duration(),
		AntiChatter: c.AntiChatterThreshold,
		DayMinimum:  c.DayMinimumOpenPercent,
	}
}

// powerSettings assumes source names were checked by config.Validate.
func powerSettings(c config.PowerConfig) power.Settings {
	src := func(name string) hal.Source {
		s, _ := hal.ParseSource(name)
		return s
	}
	sources := make(map[hal.Source]power.Calibration, len(c.Sources))
	for name, sc := range c.Sources {
		s, ok := hal.ParseSource(name)
		if !ok {
			continue
		}
		sources[s] = power.Calibration{Scale: sc.Scale, Offset: sc.Offset, SafeMin: sc.SafeMinVoltage}
	}
	return power.Settings{
		Preferred:   src(c.Preferred),
		Fallback:    src(c.Fallback),
		ManualA:     src(c.ManualA),
		ManualB:     src(c.ManualB),
		SwitchOn:    c.SwitchOnVoltage,
		SwitchOff:   c.SwitchOffVoltage,
		Critical:    c.CriticalVoltage,
		Settle:      c.SettleDelay.Duration(),
		MinInterval: c.MinInterval.Duration(),
		Sources:     sources,
	}
}

func rainCodes(ranges []config.CodeRange) []weather.CodeRange {
	if len(ranges) == 0 {
		return weather.DefaultRainCodes
	}
	out := make([]weather.CodeRange, len(ranges))
	for i, r := range ranges {
		out[i] = weather.CodeRange{From: r.From, To: r.To}
	}
	return out
}
