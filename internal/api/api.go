// Package api exposes the JSON control surface over the supervisor and the
// stored story reports.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pauljones0/story-monitor/internal/metrics"
	"github.com/pauljones0/story-monitor/internal/models"
	"github.com/pauljones0/story-monitor/internal/supervisor"
)

const (
	defaultStoryLimit  = 7
	defaultViewerLimit = 10
	maxLimit           = 100
)

// Supervisor controls per-user monitors.
type Supervisor interface {
	Start(userID string, account models.Account) error
	Stop(userID string) bool
	IsActive(userID string) bool
	LastFailure(userID string) error
}

// Reports reads aggregated results.
type Reports interface {
	RecentStoryDays(ctx context.Context, accountID string, n int) ([]models.StoryDay, error)
	TopViewers(ctx context.Context, accountID string, n int) ([]models.ViewerProfile, error)
	Summary(ctx context.Context, accountID string) (models.Summary, error)
}

type Server struct {
	supervisor Supervisor
	reports    Reports
	metrics    metrics.Recorder
}

func New(sup Supervisor, reports Reports, recorder metrics.Recorder) *Server {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Server{supervisor: sup, reports: reports, metrics: recorder}
}

// Handler routes the API. metricsHandler is mounted at /metrics when non-nil.
func (s *Server) Handler(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /monitors/{userID}", s.startMonitor)
	mux.HandleFunc("DELETE /monitors/{userID}", s.stopMonitor)
	mux.HandleFunc("GET /monitors/{userID}", s.monitorStatus)
	mux.HandleFunc("GET /accounts/{accountID}/stories", s.stories)
	mux.HandleFunc("GET /accounts/{accountID}/viewers", s.viewers)
	mux.HandleFunc("GET /accounts/{accountID}/summary", s.summary)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	return s.instrument(mux)
}

type startRequest struct {
	Handle string `json:"handle"`
}

type monitorResponse struct {
	UserID      string `json:"user_id"`
	Active      bool   `json:"active"`
	LastFailure string `json:"last_failure,omitempty"`
}

func (s *Server) startMonitor(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account := models.Account{ID: userID, Handle: strings.ToLower(models.NormalizeHandle(req.Handle))}
	err := s.supervisor.Start(userID, account)
	switch {
	case errors.Is(err, supervisor.ErrInvalidAccount):
		writeError(w, http.StatusBadRequest, "invalid handle")
	case errors.Is(err, supervisor.ErrAlreadyActive):
		writeError(w, http.StatusConflict, "monitor already active")
	case errors.Is(err, supervisor.ErrShutdown):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	case err != nil:
		slog.Error("Failed to start monitor", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start monitor")
	default:
		writeJSON(w, http.StatusAccepted, monitorResponse{UserID: userID, Active: true})
	}
}

func (s *Server) stopMonitor(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	if !s.supervisor.Stop(userID) {
		writeError(w, http.StatusNotFound, "monitor not active")
		return
	}
	writeJSON(w, http.StatusOK, monitorResponse{UserID: userID, Active: false})
}

func (s *Server) monitorStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	resp := monitorResponse{UserID: userID, Active: s.supervisor.IsActive(userID)}
	if err := s.supervisor.LastFailure(userID); err != nil {
		resp.LastFailure = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) stories(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultStoryLimit)
	if !ok {
		return
	}
	days, err := s.reports.RecentStoryDays(r.Context(), r.PathValue("accountID"), limit)
	if err != nil {
		s.storageError(w, "stories", err)
		return
	}
	if days == nil {
		days = []models.StoryDay{}
	}
	writeJSON(w, http.StatusOK, days)
}

func (s *Server) viewers(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultViewerLimit)
	if !ok {
		return
	}
	viewers, err := s.reports.TopViewers(r.Context(), r.PathValue("accountID"), limit)
	if err != nil {
		s.storageError(w, "viewers", err)
		return
	}
	if viewers == nil {
		viewers = []models.ViewerProfile{}
	}
	writeJSON(w, http.StatusOK, viewers)
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.reports.Summary(r.Context(), r.PathValue("accountID"))
	if err != nil {
		s.storageError(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) storageError(w http.ResponseWriter, report string, err error) {
	slog.Error("Failed to read report", "report", report, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to read "+report)
}

// parseLimit reads ?limit=, applying def when absent and capping at
// maxLimit. It writes a 400 and reports false for a malformed value.
func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxLimit), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			_, route = next.Handler(r)
		}
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(route, rec.status, time.Since(started))
	})
}
