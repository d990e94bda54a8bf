package config

import "time"

// Default returns a complete configuration for a single greenhouse bay.
func Default() *Config {
	cfg := &Config{
		Log:      LogConfig{Level: "info", Colors: true},
		Database: DatabaseConfig{Path: "./greenhoused.sqlite"},
		Ledger: LedgerConfig{
			Retention:       Duration(30 * 24 * time.Hour),
			CleanupInterval: Duration(24 * time.Hour),
		},
		MQTT: MQTTConfig{
			Broker:        "tcp://localhost:1883",
			ClientID:      "greenhoused",
			TopicPrefix:   "greenhouse",
			ConnectRetry:  Duration(2 * time.Second),
			MaxReconnects: 3,
		},
		Status: StatusConfig{Host: "0.0.0.0", Port: 9090},
		Hardware: HardwareConfig{
			Relays: map[string]string{
				"water_heater":     "11",
				"soil_valve":       "13",
				"air_valve":        "15",
				"circulation_pump": "16",
				"source_battery":   "29",
				"source_psu":       "31",
				"source_solar":     "33",
			},
			Indicators: map[string]string{
				"led_battery": "36",
				"led_psu":     "38",
				"led_solar":   "40",
			},
			VentOpen:   "18",
			VentClose:  "22",
			ActiveLow:  true,
			ADCAddress: 0x48,
			ADCChannels: ADCChannelConfig{
				SoilTemp:     AnalogInput{Channel: 0, Scale: 100, Offset: -50},
				WaterTemp:    AnalogInput{Channel: 1, Scale: 100, Offset: -50},
				SoilMoisture: AnalogInput{Channel: -1},
				Battery:      AnalogInput{Channel: 2, Scale: 1},
				PSU:          AnalogInput{Channel: 3, Scale: 1},
				Solar:        AnalogInput{Channel: -1},
			},
		},
		Control: ControlConfig{
			TickInterval:   Duration(10 * time.Second),
			PowerInterval:  Duration(2 * time.Second),
			ReportInterval: Duration(time.Minute),
			CommandQueue:   32,
		},
		DayNight: DayNightConfig{DayStartHour: 7, DayEndHour: 21, Timezone: "UTC"},
		Heating: HeatingConfig{
			Day:                Setpoints{Water: 45, Soil: 22, Air: 18},
			Night:              Setpoints{Water: 40, Soil: 20, Air: 14},
			Margins:            Setpoints{Water: 1, Soil: 0.2, Air: 1},
			WaterDayLimitMin:   240,
			WaterNightLimitMin: 360,
			WaterHeaterKW:      2.0,
			EnergyRate:         0.25,
		},
		Vent: VentConfig{
			OpenStartTemp:        25.1,
			OpenFinishTemp:       30.1,
			PositionsCount:       10,
			ActuatorRuntime:      Duration(60 * time.Second),
			AntiChatterThreshold: 3,
		},
		Power: PowerConfig{
			Mode:             "auto",
			Preferred:        "battery",
			Fallback:         "psu",
			ManualA:          "battery",
			ManualB:          "psu",
			SwitchOnVoltage:  12.8,
			SwitchOffVoltage: 11.8,
			CriticalVoltage:  10.5,
			SettleDelay:      Duration(500 * time.Millisecond),
			MinInterval:      Duration(5 * time.Second),
			Sources: map[string]SourceConfig{
				"battery": {Scale: 1, SafeMinVoltage: 11.0},
				"psu":     {Scale: 1, SafeMinVoltage: 11.5},
				"solar":   {Scale: 1, SafeMinVoltage: 11.0},
			},
		},
		Weather: WeatherConfig{
			RainCodes:        []CodeRange{{From: 200, To: 599}, {From: 700, To: 799}},
			FailureThreshold: 5,
			MaxAge:           Duration(30 * time.Minute),
		},
		ShutdownTimeout: Duration(5 * time.Second),
	}
	cfg.Heating.MinDelta.Soil = 5
	cfg.Heating.MinDelta.Air = 10
	return cfg
}

// applyDefaults fills values a partial YAML file may have zeroed.
func (c *Config) applyDefaults() {
	def := Default()

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Ledger.Retention == 0 {
		c.Ledger.Retention = def.Ledger.Retention
	}
	if c.Ledger.CleanupInterval == 0 {
		c.Ledger.CleanupInterval = def.Ledger.CleanupInterval
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = def.MQTT.ClientID
	}
	if c.MQTT.ConnectRetry == 0 {
		c.MQTT.ConnectRetry = def.MQTT.ConnectRetry
	}
	if c.Status.Port == 0 {
		c.Status.Port = def.Status.Port
	}
	if c.Status.Host == "" {
		c.Status.Host = def.Status.Host
	}
	if c.Control.TickInterval == 0 {
		c.Control.TickInterval = def.Control.TickInterval
	}
	if c.Control.PowerInterval == 0 {
		c.Control.PowerInterval = def.Control.PowerInterval
	}
	if c.Control.ReportInterval == 0 {
		c.Control.ReportInterval = def.Control.ReportInterval
	}
	if c.Control.CommandQueue <= 0 {
		c.Control.CommandQueue = def.Control.CommandQueue
	}
	if c.DayNight.Timezone == "" {
		c.DayNight.Timezone = def.DayNight.Timezone
	}
	if c.Vent.PositionsCount == 0 {
		c.Vent.PositionsCount = def.Vent.PositionsCount
	}
	if c.Vent.ActuatorRuntime == 0 {
		c.Vent.ActuatorRuntime = def.Vent.ActuatorRuntime
	}
	if c.Power.Mode == "" {
		c.Power.Mode = def.Power.Mode
	}
	if c.Power.Preferred == "" {
		c.Power.Preferred = def.Power.Preferred
	}
	if c.Power.Fallback == "" {
		c.Power.Fallback = def.Power.Fallback
	}
	if c.Power.ManualA == "" {
		c.Power.ManualA = def.Power.ManualA
	}
	if c.Power.ManualB == "" {
		c.Power.ManualB = def.Power.ManualB
	}
	if c.Power.SettleDelay == 0 {
		c.Power.SettleDelay = def.Power.SettleDelay
	}
	for name, src := range def.Power.Sources {
		cur, ok := c.Power.Sources[name]
		if !ok {
			if c.Power.Sources == nil {
				c.Power.Sources = make(map[string]SourceConfig)
			}
			c.Power.Sources[name] = src
			continue
		}
		if cur.Scale == 0 {
			cur.Scale = 1
			c.Power.Sources[name] = cur
		}
	}
	if c.Weather.FailureThreshold <= 0 {
		c.Weather.FailureThreshold = def.Weather.FailureThreshold
	}
	if c.Weather.MaxAge == 0 {
		c.Weather.MaxAge = def.Weather.MaxAge
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
}
