package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/analysis"
	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/events"
)

// handleAnalyzeStream starts a fresh analysis and streams its events.
// The session ID is exposed in the X-Session-Id response header before
// the first event so clients can cancel or resume.
func (a *API) handleAnalyzeStream(w http.ResponseWriter, r *http.Request) {
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

	a.serveStream(w, r, s.ID, stream)
}

// handleContinue records a follow-up message and streams an
// analysis-only run over the existing session context.
func (a *API) handleContinue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req continueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	run, s, ok := a.startRunOrError(w, r, id)
	if !ok {
		return
	}

	msg := analysis.NewMessage(analysis.RoleUser, req.Message, "")
	s.Messages = append(s.Messages, msg)
	if err := a.manager.AppendMessage(r.Context(), id, msg); err != nil {
		run.Finish()
		a.logger.Error(r.Context(), err, "failed to append message", "session_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	stream := events.NewStream()
	go a.pipeline.Continue(run, s, stream, req.Message)

	a.serveStream(w, r, id, stream)
}

// handleReanalyze discards the previous result and streams a fresh
// full run for the same alert.
func (a *API) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, s, ok := a.startRunOrError(w, r, id)
	if !ok {
		return
	}

	if err := a.manager.ResetForReanalyze(r.Context(), s); err != nil {
		run.Finish()
		a.logger.Error(r.Context(), err, "failed to reset session", "session_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	stream := events.NewStream()
	go a.pipeline.Run(run, s, stream)

	a.serveStream(w, r, id, stream)
}

// startRunOrError claims the session's run slot, mapping the domain
// errors to HTTP statuses.
func (a *API) startRunOrError(w http.ResponseWriter, r *http.Request, id string) (*analysis.Run, *analysis.Session, bool) {
	run, s, err := a.manager.StartRun(r.Context(), id)
	switch {
	case errors.Is(err, analysis.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return nil, nil, false
	case errors.Is(err, analysis.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "a run is already active for this session")
		return nil, nil, false
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to start run", "session_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, nil, false
	}
	return run, s, true
}

// serveStream writes the run's events as SSE until the stream closes.
// A failed write (client gone) stops writing but keeps draining so the
// pipeline never blocks on a full channel.
func (a *API) serveStream(w http.ResponseWriter, r *http.Request, sessionID string, stream *events.Stream) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	sw := events.NewSSEWriter(w)
	writable := true
	start := time.Now()

	for e := range stream.Events() {
		if !writable {
			continue
		}
		if err := sw.Write(e); err != nil {
			a.logger.Warn(r.Context(), "client disconnected from event stream",
				"session_id", sessionID, "after", time.Since(start).String())
			writable = false
		}
	}
}
