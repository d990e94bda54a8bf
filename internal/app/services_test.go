package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/greenhoused/internal/config"
	"github.com/dokzlo13/greenhoused/internal/daynight"
	"github.com/dokzlo13/greenhoused/internal/eventbus"
	"github.com/dokzlo13/greenhoused/internal/heating"
	"github.com/dokzlo13/greenhoused/internal/ledger"
	"github.com/dokzlo13/greenhoused/internal/telemetry"
)

func newTestServices(t *testing.T) *Services {
	t.Helper()
	cfg := config.Default()
	cfg.TestMode = true
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.sqlite")

	s, err := NewServices(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewServices_TestMode(t *testing.T) {
	s := newTestServices(t)

	assert.NotEmpty(t, s.BootID)
	assert.NotNil(t, s.Ledger)
	assert.NotNil(t, s.Events)
	assert.Nil(t, s.MQTT)
	assert.True(t, s.Controllers.Vent.Auto())
	assert.True(t, s.Controllers.Heating.Enabled())
}

func TestControllers_WeatherTrackerNeedsFeed(t *testing.T) {
	cfg := config.Default()
	hw := newSimHardware(time.UTC)

	c, err := newControllers(cfg, hw)
	require.NoError(t, err)
	assert.Nil(t, c.Weather, "no MQTT means no weather feed")

	cfg.MQTT.Enabled = true
	c, err = newControllers(cfg, hw)
	require.NoError(t, err)
	assert.NotNil(t, c.Weather)
}

func TestTick_NoWeatherFeedStaysQuiet(t *testing.T) {
	s := newTestServices(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Loop.Tick(context.Background()))
	}
	st := s.Loop.State()
	assert.Zero(t, st.Weather.Failures)
	assert.False(t, st.Weather.Raining)
}

func TestStatus_ReadyAfterFirstTick(t *testing.T) {
	s := newTestServices(t)
	h := s.Status.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/ready").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/state").Code)

	require.NoError(t, s.Loop.Tick(context.Background()))

	assert.Equal(t, http.StatusOK, get(t, h, "/ready").Code)
	rec := get(t, h, "/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var st telemetry.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, s.BootID, st.BootID)
	assert.True(t, st.PhaseKnown)
	assert.Contains(t, st.Sensors, "soil_temp")
}

func TestStatus_Commands(t *testing.T) {
	s := newTestServices(t)
	h := s.Status.Handler()

	post := func(body string) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/commands", strings.NewReader(body)))
		return rec.Code
	}

	assert.Equal(t, http.StatusAccepted, post(`{"type":"set_manual_vent","percent":30}`))
	assert.Equal(t, http.StatusBadRequest, post(`{"type":"open_the_roof"}`))
	assert.Equal(t, http.StatusBadRequest, post(`not json`))
	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, "/commands").Code)

	require.NoError(t, s.Loop.Tick(context.Background()))
	assert.False(t, s.Controllers.Vent.Auto())
}

func TestStatus_LedgerRoutes(t *testing.T) {
	s := newTestServices(t)
	h := s.Status.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/periods").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/events/transition?limit=5").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/periods?limit=zero").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/events?from=2024-04-10T00:00:00Z&to=2024-04-11T00:00:00Z").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/events?from=yesterday").Code)
}

func TestEventService_RecordsBootstrapTransition(t *testing.T) {
	s := newTestServices(t)
	require.NoError(t, s.Loop.Tick(context.Background()))

	require.Eventually(t, func() bool {
		entries, err := s.Ledger.GetByType(ledger.EventTransition, 10)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := s.Ledger.GetByType(ledger.EventTransition, 10)
	require.NoError(t, err)
	assert.Equal(t, s.BootID, entries[0].BootID)
	assert.Equal(t, true, entries[0].Payload["overdue"])

	// The bootstrap transition closes no period.
	periods, err := s.Ledger.Periods(10)
	require.NoError(t, err)
	assert.Empty(t, periods)
}

func TestEventService_RollsUpEndedPeriod(t *testing.T) {
	s := newTestServices(t)
	ended := time.Date(2024, 4, 10, 21, 0, 0, 0, time.UTC)

	s.Bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeTransition,
		Time: ended,
		Payload: telemetry.TransitionEvent{
			Direction:   "day_to_night",
			EndedPeriod: "day",
			Ended:       heating.Budget{RuntimeSeconds: 600, Cost: 0.08},
		},
	})
	s.Bus.Publish(eventbus.Event{
		Type:    eventbus.EventTypePowerSwitch,
		Time:    ended,
		Payload: telemetry.PowerSwitchEvent{From: "psu", Reason: "preferred_recovered", Aborted: true},
	})
	s.Bus.Publish(eventbus.Event{
		Type:    eventbus.EventTypeAlert,
		Time:    ended,
		Payload: telemetry.Alert{Level: telemetry.LevelInfo, Message: "not recorded"},
	})

	require.Eventually(t, func() bool {
		periods, err := s.Ledger.Periods(10)
		return err == nil && len(periods) == 1
	}, 2*time.Second, 10*time.Millisecond)

	periods, err := s.Ledger.Periods(10)
	require.NoError(t, err)
	assert.Equal(t, "day", periods[0].Period)
	assert.InDelta(t, 600, periods[0].RuntimeSeconds, 1e-9)
	assert.True(t, periods[0].EndedAt.Equal(ended))

	require.Eventually(t, func() bool {
		entries, err := s.Ledger.GetByType(ledger.EventPowerSwitchAborted, 10)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	warnings, err := s.Ledger.GetByType(ledger.EventWarning, 10)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestSettingsMapping(t *testing.T) {
	cfg := config.Default()

	hs := heatingSettings(cfg.Heating)
	assert.Equal(t, 4*time.Hour, hs.DayLimit)
	assert.Equal(t, 6*time.Hour, hs.NightLimit)
	assert.Equal(t, 45.0, hs.Day.Water)
	assert.Equal(t, 5.0, hs.SoilDelta)

	ps := powerSettings(cfg.Power)
	assert.Equal(t, "battery", string(ps.Preferred))
	assert.Equal(t, "psu", string(ps.Fallback))
	assert.Equal(t, 11.5, ps.Sources["psu"].SafeMin)

	vs := ventSettings(cfg.Vent)
	assert.Equal(t, 10, vs.Positions)
	assert.Equal(t, time.Minute, vs.Runtime)

	assert.Len(t, rainCodes(nil), 2)
	assert.Equal(t, 300, rainCodes([]config.CodeRange{{From: 300, To: 321}})[0].From)
}

func TestTransitionRecordSurvivesRestart(t *testing.T) {
	cfg := config.Default()
	cfg.TestMode = true
	cfg.Database.Path = filepath.Join(t.TempDir(), "restart.sqlite")

	first, err := NewServices(cfg)
	require.NoError(t, err)
	require.NoError(t, first.Loop.Tick(context.Background()))
	saved := first.Controllers.DayNight.Record()
	first.Close()
	require.NotEqual(t, daynight.Record{}, saved)

	second, err := NewServices(cfg)
	require.NoError(t, err)
	t.Cleanup(second.Close)
	assert.Equal(t, saved, second.Controllers.DayNight.Record())

	require.NoError(t, second.ClearState())
	assert.Equal(t, daynight.Record{}, second.Controllers.DayNight.Record())
	_, ok, err := second.records.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}
