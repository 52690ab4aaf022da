// Package api exposes the alert-analysis HTTP surface: session CRUD
// plus the streaming and synchronous run endpoints.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/analysis"
	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/events"
)

// ownerHeader carries the caller identity; authn itself is handled by
// an external collaborator in front of this service.
const ownerHeader = "X-User-Id"

// Runner executes analysis runs; implemented by analysis.Pipeline.
type Runner interface {
	Run(run *analysis.Run, s *analysis.Session, stream *events.Stream)
	Continue(run *analysis.Run, s *analysis.Session, stream *events.Stream, userMessage string)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	manager  *analysis.Manager
	pipeline Runner
}

// New creates a new API handler.
func New(logger log.Logger, manager *analysis.Manager, pipeline Runner) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if manager == nil {
		panic(xerrors.New("session manager is required"))
	}
	if pipeline == nil {
		panic(xerrors.New("pipeline is required"))
	}
	return &API{
		logger:   logger,
		manager:  manager,
		pipeline: pipeline,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/analysis", a.handleAnalyze)
		r.Post("/analysis/stream", a.handleAnalyzeStream)
		r.Post("/analysis/{id}/continue", a.handleContinue)
		r.Post("/analysis/{id}/reanalyze", a.handleReanalyze)
		r.Post("/analysis/{id}/cancel", a.handleCancel)
		r.Get("/analysis/{id}", a.handleGetSession)
		r.Get("/analysis", a.handleListSessions)
		r.Delete("/analysis/{id}", a.handleDeleteSession)
	})
}

func owner(r *http.Request) string {
	if v := r.Header.Get(ownerHeader); v != "" {
		return v
	}
	return "anonymous"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
