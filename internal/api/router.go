package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/accesslog"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/system", s.handleSystem)
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath(), s.metrics)
	}
	return r
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status  string            `json:"status"` // ok|degraded
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// handleHealth runs every dependency check. Any failure makes the response
// 503 so orchestrators can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version}
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.checks[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// StatsResponse is the /stats body.
type StatsResponse struct {
	access.Stats
	Settings  access.Settings    `json:"settings"`
	Dirty     bool               `json:"unsaved_changes"`
	AccessLog *accesslog.Summary `json:"access_log,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Stats:    s.store.Stats(),
		Settings: s.store.Settings(),
		Dirty:    s.store.Dirty(),
	}
	if s.accessLog != nil {
		summary, err := accesslog.Summarise(r.Context(), s.accessLog, s.now(), s.location)
		if err != nil {
			s.logger.Error("summarising access log", "error", err)
			writeInternalError(w, "failed to read access log")
			return
		}
		resp.AccessLog = summary
	}
	writeJSON(w, http.StatusOK, resp)
}

// uptime is reported in whole seconds.
func (s *Server) uptime() int64 {
	return int64(s.now().Sub(s.startTime) / time.Second)
}
