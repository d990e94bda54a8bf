package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/config"
	"github.com/dokzlo13/greenhoused/internal/power"
)

// App owns one greenhouse controller: its hardware, control loop and the
// services around it.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start brings up the hardware and services. On failure everything opened
// so far is closed again, which drops every relay to its off state.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	// Fatal error handler - cancels the app context to trigger shutdown
	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		a.cancel()
		a.services.Close()
		return fmt.Errorf("start services: %w", err)
	}

	log.Info().
		Str("boot_id", a.services.BootID).
		Fields(Summary(a.cfg)).
		Msg("greenhoused started")
	return nil
}

// Summary describes which controllers and outer services cfg enables.
func Summary(cfg *config.Config) map[string]any {
	dn := cfg.DayNight
	mode, _ := power.ParseMode(cfg.Power.Mode)

	vent := "auto"
	if !cfg.Vent.IsAuto() {
		vent = fmt.Sprintf("manual %.0f%%", cfg.Vent.ManualPercent)
	}
	heating := "off"
	if cfg.Heating.IsEnabled() {
		heating = "on"
	}

	out := map[string]any{
		"test_mode":    cfg.TestMode,
		"day":          fmt.Sprintf("%02d:00-%02d:00 %s", dn.DayStartHour, dn.DayEndHour, dn.Location()),
		"heating":      heating,
		"vent":         vent,
		"power":        fmt.Sprintf("%s %s>%s", mode, cfg.Power.Preferred, cfg.Power.Fallback),
		"weather_feed": cfg.MQTT.Enabled,
		"ledger":       cfg.Ledger.IsEnabled(),
	}
	if cfg.Status.Enabled {
		out["status"] = fmt.Sprintf("%s:%d", cfg.Status.Host, cfg.Status.Port)
	}
	return out
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ClearState clears the stored transition record.
// This is useful for resetting state on startup with --reset-state flag.
func (a *App) ClearState() error {
	if a.services != nil {
		return a.services.ClearState()
	}
	return nil
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
