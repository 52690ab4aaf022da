package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/analysis"
	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/events"
)

type analyzeRequest struct {
	AlertContent string `json:"alert_content"`
}

type continueRequest struct {
	Message string `json:"message"`
}

type listResponse struct {
	Sessions []*analysis.Session `json:"sessions"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
}

// handleAnalyze runs the full pipeline synchronously and returns the
// finished session.
func (a *API) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.AlertContent) == "" {
		writeError(w, http.StatusBadRequest, "alert_content is required")
		return
	}

	s, err := a.manager.Create(r.Context(), owner(r), req.AlertContent)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to create session")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	id := s.ID
	run, s, err := a.manager.StartRun(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to start run", "session_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	stream := events.NewStream()
	go a.pipeline.Run(run, s, stream)

	// Block until the terminal event; the stream closes right after.
	for range stream.Events() {
	}

	final, err := a.manager.Get(r.Context(), run.SessionID())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load finished session", "session_id", run.SessionID())
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, final)
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := a.manager.Get(r.Context(), id); err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "failed to load session", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := "not_active"
	if a.manager.Cancel(r.Context(), id) {
		status = "cancelled"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("oncall.session.id", id))

	s, err := a.manager.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, analysis.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		a.logger.Error(r.Context(), err, "failed to get session", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(attribute.String("oncall.session.status", string(s.Status)))
	writeJSON(w, http.StatusOK, s)
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		page = n
	}

	sessions, total, err := a.manager.List(r.Context(), owner(r), page)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list sessions")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sessions == nil {
		sessions = []*analysis.Session{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Sessions: sessions,
		Total:    total,
		Page:     page,
		PageSize: analysis.DefaultPageSize,
	})
}

func (a *API) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := a.manager.Delete(r.Context(), id)
	switch {
	case errors.Is(err, analysis.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, analysis.ErrRunActive):
		writeError(w, http.StatusConflict, "a run is active for this session")
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to delete session", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
