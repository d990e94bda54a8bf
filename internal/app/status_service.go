package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/greenhoused/internal/config"
	"github.com/dokzlo13/greenhoused/internal/control"
	"github.com/dokzlo13/greenhoused/internal/ledger"
)

const (
	defaultListLimit = 50
	maxCommandBytes  = 4096
)

// StatusService serves health, the latest state snapshot, ledger history
// and a command endpoint over HTTP.
type StatusService struct {
	cfg    *config.Config
	loop   *control.Loop
	ledger *ledger.Ledger
	server *http.Server
}

// NewStatusService creates a new StatusService. l may be nil when the
// ledger is disabled.
func NewStatusService(cfg *config.Config, loop *control.Loop, l *ledger.Ledger) *StatusService {
	return &StatusService{
		cfg:    cfg,
		loop:   loop,
		ledger: l,
	}
}

// Handler returns the router.
func (s *StatusService) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.getReady).Methods(http.MethodGet)
	r.HandleFunc("/state", s.getState).Methods(http.MethodGet)
	r.HandleFunc("/commands", s.postCommand).Methods(http.MethodPost)
	if s.ledger != nil {
		r.HandleFunc("/periods", s.getPeriods).Methods(http.MethodGet)
		r.HandleFunc("/events", s.getEventRange).Methods(http.MethodGet)
		r.HandleFunc("/events/{type}", s.getEvents).Methods(http.MethodGet)
	}

	return r
}

// Start begins the status server if enabled. A listen failure is fatal.
func (s *StatusService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.Status.Enabled {
		return
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Status.Host, s.cfg.Status.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting status server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown error")
		}
	}()

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			onFatalError(fmt.Errorf("status server: %w", err))
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *StatusService) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *StatusService) getReady(w http.ResponseWriter, _ *http.Request) {
	if !s.loop.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *StatusService) getState(w http.ResponseWriter, _ *http.Request) {
	if !s.loop.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, s.loop.State())
}

func (s *StatusService) postCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd, err := control.ParseCommand(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.loop.Submit(cmd); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"queued": cmd.String()})
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}

func (s *StatusService) getPeriods(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	periods, err := s.ledger.Periods(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, periods)
}

func (s *StatusService) getEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	eventType := ledger.EventType(mux.Vars(r)["type"])
	entries, err := s.ledger.GetByType(eventType, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// getEventRange lists entries between ?from= and ?to= (RFC 3339). Missing
// bounds default to the last 24 hours.
func (s *StatusService) getEventRange(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to := time.Now()
	from := to.Add(-24 * time.Hour)
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid from: %w", err))
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid to: %w", err))
			return
		}
	}
	entries, err := s.ledger.GetByTimeRange(from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
