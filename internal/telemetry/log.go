package telemetry

import (
	"github.com/rs/zerolog/log"
)

// LogSink writes reports to the global zerolog logger.
type LogSink struct{}

func (LogSink) ReportInfo(msg string) {
	log.Info().Str("component", "telemetry").Msg(msg)
}

func (LogSink) ReportWarning(msg string) {
	log.Warn().Str("component", "telemetry").Msg(msg)
}

func (LogSink) ReportCritical(msg string) {
	log.Error().Str("component", "telemetry").Str("level", string(LevelCritical)).Msg(msg)
}

// ReportState logs the compact state at debug level.
func (LogSink) ReportState(st State) {
	if !log.Debug().Enabled() {
		return
	}
	log.Debug().
		Str("phase", st.Phase).
		Bool("water", st.Heating.WaterOn).
		Bool("soil", st.Heating.SoilOn).
		Bool("air", st.Heating.AirOn).
		Float64("vent", st.Vent.Actual).
		Str("source", string(st.Power.Active)).
		Float64("day_runtime_min", st.Heating.DayBudget.RuntimeMinutes()).
		Float64("night_runtime_min", st.Heating.NightBudget.RuntimeMinutes()).
		Msg("State")
}
