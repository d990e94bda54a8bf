package main

import (
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/app"
	"github.com/dokzlo13/greenhoused/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	testMode := flag.Bool("test-mode", false, "Run against the simulated greenhouse instead of the board")
	resetState := flag.Bool("reset-state", false, "Forget the stored day/night transition record on startup")
	check := flag.Bool("check", false, "Validate the configuration, print the controller summary and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", configPath).Msg("Failed to load configuration")
	}
	if *testMode {
		cfg.TestMode = true
	}
	setupLogging(cfg.Log.Level, cfg.Log.UseJSON, cfg.Log.Colors)

	if *check {
		log.Info().Str("config", configPath).Fields(app.Summary(cfg)).Msg("Configuration is valid")
		return
	}
	log.Info().Str("config", configPath).Msg("Starting greenhoused")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	if *resetState {
		log.Info().Msg("Clearing stored transition record (--reset-state)")
		if err := application.ClearState(); err != nil {
			log.Warn().Err(err).Msg("Failed to clear stored state")
		}
	}

	// A failed start has already released the relays.
	if err := application.Start(app.SignalContext()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start greenhouse controller")
	}
	application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	// ISO 8601 format with timezone
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
