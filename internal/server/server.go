// Package server exposes the operational HTTP surface: health, counters,
// checkpoint positions, and backfill control. Ingestion itself is driven
// entirely by the event source; the API only observes and steers backfills.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/groblegark/scribe/internal/backfill"
	"github.com/groblegark/scribe/internal/model"
	"github.com/groblegark/scribe/internal/pipeline"
	"github.com/groblegark/scribe/internal/store"
)

// Server serves the monitoring endpoints.
type Server struct {
	store       store.Store
	pipeline    *pipeline.Pipeline
	coordinator *backfill.Coordinator
	logger      *slog.Logger
}

// New creates a server. coordinator may be nil when backfill is not wired.
func New(st store.Store, p *pipeline.Pipeline, coordinator *backfill.Coordinator, logger *slog.Logger) *Server {
	return &Server{store: st, pipeline: p, coordinator: coordinator, logger: logger}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/checkpoints", s.handleCheckpoints)
	mux.HandleFunc("GET /v1/backfills", s.handleBackfills)
	mux.HandleFunc("POST /v1/backfills/{scope}", s.handleStartBackfill)
	mux.HandleFunc("DELETE /v1/backfills/{scope}", s.handleStopBackfill)
	return mux
}

// handleHealth handles GET /v1/health. Degraded storage turns the status
// into a 503 so load balancers and probes see it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "degraded",
			"database": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Pipeline      pipeline.Snapshot `json:"pipeline"`
	TotalMessages int64             `json:"total_messages"`
	TotalActions  int64             `json:"total_actions"`
	Backfills     []backfill.Status `json:"backfills,omitempty"`
}

// handleStats handles GET /v1/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Pipeline: s.pipeline.Snapshot()}

	var err error
	if resp.TotalMessages, err = s.store.CountMessages(r.Context()); err != nil {
		s.logger.Error("count messages failed", "err", err)
		writeError(w, http.StatusInternalServerError, "counting messages")
		return
	}
	if resp.TotalActions, err = s.store.CountActions(r.Context()); err != nil {
		s.logger.Error("count actions failed", "err", err)
		writeError(w, http.StatusInternalServerError, "counting actions")
		return
	}
	if s.coordinator != nil {
		resp.Backfills = s.coordinator.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCheckpoints handles GET /v1/checkpoints.
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := s.store.ListCheckpoints(r.Context())
	if err != nil {
		s.logger.Error("list checkpoints failed", "err", err)
		writeError(w, http.StatusInternalServerError, "listing checkpoints")
		return
	}
	if cps == nil {
		cps = []*model.Checkpoint{}
	}
	writeJSON(w, http.StatusOK, cps)
}

// handleBackfills handles GET /v1/backfills.
func (s *Server) handleBackfills(w http.ResponseWriter, _ *http.Request) {
	statuses := []backfill.Status{}
	if s.coordinator != nil {
		statuses = s.coordinator.Statuses()
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleStartBackfill handles POST /v1/backfills/{scope}. The resume query
// parameter lets a caller take over a run left marked in-progress by a crash.
func (s *Server) handleStartBackfill(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, "backfill is not configured")
		return
	}
	scopeID := r.PathValue("scope")
	resume := r.URL.Query().Get("resume") == "true"

	started, err := s.coordinator.Start(context.Background(), scopeID, resume)
	if err != nil {
		s.logger.Error("start backfill failed", "scope_id", scopeID, "err", err)
		writeError(w, http.StatusInternalServerError, "starting backfill")
		return
	}
	if !started {
		writeError(w, http.StatusConflict, "backfill already in progress for scope "+scopeID)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"scope_id": scopeID,
		"state":    string(backfill.StateRunning),
	})
}

// handleStopBackfill handles DELETE /v1/backfills/{scope}.
func (s *Server) handleStopBackfill(w http.ResponseWriter, r *http.Request) {
	if s.coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, "backfill is not configured")
		return
	}
	scopeID := r.PathValue("scope")
	if !s.coordinator.Stop(scopeID) {
		writeError(w, http.StatusNotFound, "no running backfill for scope "+scopeID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"scope_id": scopeID,
		"state":    string(backfill.StatePaused),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
