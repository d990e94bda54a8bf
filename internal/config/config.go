package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for inconsistent settings.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Status   StatusConfig   `yaml:"status"`
	Hardware HardwareConfig `yaml:"hardware"`
	Control  ControlConfig  `yaml:"control"`
	DayNight DayNightConfig `yaml:"daynight"`
	Heating  HeatingConfig  `yaml:"heating"`
	Vent     VentConfig     `yaml:"vent"`
	Power    PowerConfig    `yaml:"power"`
	Weather  WeatherConfig  `yaml:"weather"`
	EventBus EventBusConfig `yaml:"eventbus"`

	// TestMode runs against the simulated greenhouse instead of real hardware.
	TestMode        bool     `yaml:"test_mode"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	Retention       Duration `yaml:"retention"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MQTTConfig contains broker settings for telemetry and remote commands
type MQTTConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Broker        string   `yaml:"broker"`
	ClientID      string   `yaml:"client_id"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`
	TopicPrefix   string   `yaml:"topic_prefix"`
	QoS           byte     `yaml:"qos"`
	ConnectRetry  Duration `yaml:"connect_retry"`
	MaxReconnects int      `yaml:"max_reconnects"`
}

// StatusConfig contains status HTTP server settings
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// HardwareConfig maps logical outputs and sensors to board pins.
type HardwareConfig struct {
	Relays      map[string]string `yaml:"relays"`      // channel name -> GPIO pin
	Indicators  map[string]string `yaml:"indicators"`  // indicator name -> GPIO pin
	VentOpen    string            `yaml:"vent_open"`   // motor relay pin, open direction
	VentClose   string            `yaml:"vent_close"`  // motor relay pin, close direction
	ActiveLow   bool              `yaml:"active_low"`  // relay boards that energise on low
	ADCAddress  int               `yaml:"adc_address"` // ADS1115 I2C address
	ADCChannels ADCChannelConfig  `yaml:"adc_channels"`
}

// ADCChannelConfig assigns ADS1115 inputs and their linear calibration.
type ADCChannelConfig struct {
	SoilTemp     AnalogInput `yaml:"soil_temp"`
	WaterTemp    AnalogInput `yaml:"water_temp"`
	SoilMoisture AnalogInput `yaml:"soil_moisture"`
	Battery      AnalogInput `yaml:"battery"`
	PSU          AnalogInput `yaml:"psu"`
	Solar        AnalogInput `yaml:"solar"`
}

// AnalogInput is one ADC input: value = volts*Scale + Offset. Channel < 0 disables it.
type AnalogInput struct {
	Channel int     `yaml:"channel"`
	Scale   float64 `yaml:"scale"`
	Offset  float64 `yaml:"offset"`
}

// ControlConfig contains control loop cadence
type ControlConfig struct {
	TickInterval   Duration `yaml:"tick_interval"`
	PowerInterval  Duration `yaml:"power_interval"`
	ReportInterval Duration `yaml:"report_interval"`
	CommandQueue   int      `yaml:"command_queue"`
}

// DayNightConfig contains the day window
type DayNightConfig struct {
	DayStartHour int    `yaml:"day_start_hour"`
	DayEndHour   int    `yaml:"day_end_hour"`
	Timezone     string `yaml:"timezone"`
}

// Setpoints are target temperatures for one period
type Setpoints struct {
	Water float64 `yaml:"water"`
	Soil  float64 `yaml:"soil"`
	Air   float64 `yaml:"air"`
}

// HeatingConfig contains heating controller settings
type HeatingConfig struct {
	Enabled  *bool     `yaml:"enabled"`
	Day      Setpoints `yaml:"day"`
	Night    Setpoints `yaml:"night"`
	Margins  Setpoints `yaml:"margins"`
	MinDelta struct {
		Soil float64 `yaml:"soil"`
		Air  float64 `yaml:"air"`
	} `yaml:"min_delta"`
	WaterDayLimitMin   float64 `yaml:"water_day_limit_min"`
	WaterNightLimitMin float64 `yaml:"water_night_limit_min"`
	WaterHeaterKW      float64 `yaml:"water_heater_kw"`
	EnergyRate         float64 `yaml:"energy_rate"`
}

// IsEnabled returns whether heating is enabled (default: true)
func (c *HeatingConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// VentConfig contains ventilation controller settings
type VentConfig struct {
	AutoMode              *bool    `yaml:"auto_mode"`
	ManualPercent         float64  `yaml:"manual_percent"`
	OpenStartTemp         float64  `yaml:"open_start_temp"`
	OpenFinishTemp        float64  `yaml:"open_finish_temp"`
	PositionsCount        int      `yaml:"positions_count"`
	ActuatorRuntime       Duration `yaml:"actuator_runtime"`
	AntiChatterThreshold  float64  `yaml:"anti_chatter_threshold"`
	DayMinimumOpenPercent float64  `yaml:"day_minimum_open_percent"`
}

// IsAuto returns whether the vent follows soil temperature (default: true)
func (c *VentConfig) IsAuto() bool {
	return c.AutoMode == nil || *c.AutoMode
}

// SourceConfig holds per-source voltage calibration and safety limit
type SourceConfig struct {
	Scale          float64 `yaml:"scale"`
	Offset         float64 `yaml:"offset"`
	SafeMinVoltage float64 `yaml:"safe_min_voltage"`
}

// PowerConfig contains power arbiter settings
type PowerConfig struct {
	Mode             string                  `yaml:"mode"` // auto | manual_a | manual_b
	Preferred        string                  `yaml:"preferred"`
	Fallback         string                  `yaml:"fallback"`
	ManualA          string                  `yaml:"manual_a"`
	ManualB          string                  `yaml:"manual_b"`
	SwitchOnVoltage  float64                 `yaml:"switch_on_voltage"`
	SwitchOffVoltage float64                 `yaml:"switch_off_voltage"`
	CriticalVoltage  float64                 `yaml:"critical_voltage"`
	SettleDelay      Duration                `yaml:"settle_delay"`
	MinInterval      Duration                `yaml:"min_interval"`
	Sources          map[string]SourceConfig `yaml:"sources"`
}

// WeatherConfig contains weather override settings
type WeatherConfig struct {
	RainCodes        []CodeRange `yaml:"rain_codes"`
	FailureThreshold int         `yaml:"failure_threshold"`
	MaxAge           Duration    `yaml:"max_age"`
}

// CodeRange is an inclusive range of weather codes
type CodeRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// GetShutdownTimeout returns the graceful stop timeout
func (c *Config) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout.Duration()
}

// Location loads the day/night timezone, falling back to UTC.
func (c *DayNightConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in Go syntax
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	dn := c.DayNight
	check(dn.DayStartHour >= 0 && dn.DayStartHour <= 23, "daynight.day_start_hour %d out of range", dn.DayStartHour)
	check(dn.DayEndHour >= 0 && dn.DayEndHour <= 23, "daynight.day_end_hour %d out of range", dn.DayEndHour)
	check(dn.DayStartHour != dn.DayEndHour, "daynight window is empty")

	h := c.Heating
	check(h.Margins.Water >= 0 && h.Margins.Soil >= 0 && h.Margins.Air >= 0, "heating.margins must not be negative")
	check(h.WaterDayLimitMin >= 0 && h.WaterNightLimitMin >= 0, "heating water limits must not be negative")

	v := c.Vent
	check(v.PositionsCount >= 1, "vent.positions_count must be >= 1")
	check(v.OpenFinishTemp > v.OpenStartTemp, "vent.open_finish_temp must exceed open_start_temp")
	check(v.ActuatorRuntime > 0, "vent.actuator_runtime must be positive")
	check(v.AntiChatterThreshold >= 0 && v.AntiChatterThreshold < 100, "vent.anti_chatter_threshold out of range")
	check(v.DayMinimumOpenPercent >= 0 && v.DayMinimumOpenPercent <= 100, "vent.day_minimum_open_percent out of range")

	p := c.Power
	check(p.SwitchOffVoltage < p.SwitchOnVoltage, "power.switch_off_voltage must be below switch_on_voltage")
	switch p.Mode {
	case "auto", "manual_a", "manual_b":
	default:
		problems = append(problems, fmt.Sprintf("power.mode %q unknown", p.Mode))
	}
	for _, name := range []string{p.Preferred, p.Fallback, p.ManualA, p.ManualB} {
		check(isSourceName(name), "power source %q unknown", name)
	}
	check(p.Preferred != p.Fallback, "power.preferred and power.fallback must differ")

	for _, r := range c.Weather.RainCodes {
		check(r.From <= r.To, "weather.rain_codes range %d-%d is inverted", r.From, r.To)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func isSourceName(s string) bool {
	return s == "battery" || s == "psu" || s == "solar"
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
