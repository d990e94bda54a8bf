package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/greenhoused/internal/daynight"
	"github.com/dokzlo13/greenhoused/internal/heating"
	"github.com/dokzlo13/greenhoused/internal/power"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Command
		wantErr bool
	}{
		{name: "vent_auto", in: `{"type":"set_vent_auto","auto":false}`, want: SetVentAuto{Auto: false}},
		{name: "manual_vent", in: `{"type":"set_manual_vent","percent":40}`, want: SetManualVent{Percent: 40}},
		{name: "power_mode", in: `{"type":"set_power_mode","mode":"manual_b"}`, want: SetPowerMode{Mode: power.ManualB}},
		{name: "heating", in: `{"type":"set_heating_enabled","enabled":true}`, want: SetHeatingEnabled{Enabled: true}},
		{
			name: "setpoints",
			in:   `{"type":"set_setpoints","phase":"night","water":38,"soil":19,"air":12}`,
			want: SetSetpoints{Phase: daynight.Night, Setpoints: heating.Setpoints{Water: 38, Soil: 19, Air: 12}},
		},
		{name: "day_window", in: `{"type":"set_day_window","start":6,"end":20}`, want: SetDayWindow{Start: 6, End: 20}},
		{name: "missing_field", in: `{"type":"set_manual_vent"}`, wantErr: true},
		{name: "bad_mode", in: `{"type":"set_power_mode","mode":"turbo"}`, wantErr: true},
		{name: "bad_phase", in: `{"type":"set_setpoints","phase":"dusk","water":1,"soil":1,"air":1}`, wantErr: true},
		{name: "unknown", in: `{"type":"reboot"}`, wantErr: true},
		{name: "malformed", in: `{"type":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_UnknownType(t *testing.T) {
	_, err := ParseCommand([]byte(`{"type":"reboot"}`))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestSetDayWindowRejectsBadHours(t *testing.T) {
	assert.Error(t, SetDayWindow{Start: 7, End: 24}.apply(nil))
	assert.Error(t, SetDayWindow{Start: -1, End: 20}.apply(nil))
}
