package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/rikkisnah/stc/internal/checkpoint"
	"github.com/rikkisnah/stc/internal/csvdiff"
	"github.com/rikkisnah/stc/internal/events"
	"github.com/rikkisnah/stc/internal/pipeline"
	"github.com/rikkisnah/stc/internal/runs"
)

// Rejection reasons recorded by the start request counter
const (
	reasonRateLimited = "rate_limited"
	reasonValidation  = "validation"
	reasonNotFound    = "not_found"
	reasonConflict    = "conflict"
	reasonInternal    = "internal"
)

// handleTrain starts or resumes one phase. Rejections are a single error
// event with a 4xx status; accepted requests stream until the phase ends,
// unless the client asked for exactly application/json.
func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("request_id", requestID(r))

	if !s.limiters.allow(clientID(r)) {
		s.reject(w, http.StatusTooManyRequests, reasonRateLimited, "Too many pipeline starts. Try again shortly.")
		return
	}

	var req pipeline.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.reject(w, http.StatusBadRequest, reasonValidation, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	inv, err := s.controller.Prepare(req)
	if err != nil {
		status, reason := prepareStatus(err)
		s.reject(w, status, reason, err.Error())
		return
	}

	if inv.Run != nil {
		if !s.claim(inv.Run.ID) {
			s.reject(w, http.StatusConflict, reasonConflict, fmt.Sprintf("Run %s already has a phase in progress.", inv.Run.ID))
			return
		}
		defer s.release(inv.Run.ID)
	}

	logger.Info("Phase request accepted", "phase", inv.Phase, "run_id", req.RunID, "finish", inv.Finish)

	if r.Header.Get("Accept") == "application/json" {
		acc := events.NewAccumulator()
		terminal := s.controller.Execute(r.Context(), inv, acc)
		if err := acc.WriteJSON(w, http.StatusOK); err != nil {
			logger.Warn("Failed to write response", "error", err)
		}
		logger.Debug("Buffered phase finished", "outcome", terminal.Type, "events", len(acc.Events()))
		return
	}

	events.WriteStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	stream := events.NewStreamEmitter(w)
	terminal := s.controller.Execute(r.Context(), inv, stream)
	if !stream.Terminated() {
		logger.Warn("Client went away before the terminal event", "outcome", terminal.Type)
		return
	}
	logger.Debug("Stream closed", "outcome", terminal.Type)
}

// prepareStatus maps a Prepare failure onto a status and rejection reason
func prepareStatus(err error) (int, string) {
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, runs.ErrInvalidRunID):
		return http.StatusBadRequest, reasonValidation
	case errors.Is(err, runs.ErrRunNotFound), errors.Is(err, checkpoint.ErrNotFound),
		errors.Is(err, pipeline.ErrModelNotFound):
		return http.StatusNotFound, reasonNotFound
	}
	return http.StatusInternalServerError, reasonInternal
}

func (s *Server) reject(w http.ResponseWriter, status int, reason, msg string) {
	s.metrics.RecordRejected(reason)
	if err := events.WriteSingle(w, status, events.Error(msg)); err != nil {
		s.logger.Warn("Failed to write rejection", "error", err, "status", status)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	infos, err := s.runs.List()
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	s.writeJSON(w, map[string]any{"runs": infos})
}

func (s *Server) handleInspectRun(w http.ResponseWriter, r *http.Request) {
	detail, err := s.runs.Inspect(r.PathValue("id"))
	if err != nil {
		s.sendRunError(w, err)
		return
	}
	s.writeJSON(w, detail)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.isActive(id) {
		s.sendError(w, http.StatusConflict, "Run %s has a phase in progress.", id)
		return
	}
	if err := s.runs.Delete(id); err != nil {
		s.sendRunError(w, err)
		return
	}
	s.logger.Info("Run deleted", "run_id", id, "request_id", requestID(r))
	s.writeJSON(w, map[string]string{"deleted": id})
}

func (s *Server) sendRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runs.ErrInvalidRunID):
		s.sendError(w, http.StatusBadRequest, "%v", err)
	case errors.Is(err, runs.ErrRunNotFound):
		s.sendError(w, http.StatusNotFound, "%v", err)
	default:
		s.sendError(w, http.StatusInternalServerError, "%v", err)
	}
}

// handleRulesDiff diffs two rule files. Relative paths resolve against the
// repository root.
func (s *Server) handleRulesDiff(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	target := strings.TrimSpace(r.URL.Query().Get("target"))
	if source == "" || target == "" {
		s.sendError(w, http.StatusBadRequest, "source and target are required.")
		return
	}

	res, err := csvdiff.DiffFiles(s.cfg.Pipeline.Resolve(source), s.cfg.Pipeline.Resolve(target))
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.sendError(w, http.StatusNotFound, "%v", err)
		case errors.Is(err, csvdiff.ErrEmptySource), errors.Is(err, csvdiff.ErrEmptyTarget):
			s.sendError(w, http.StatusBadRequest, "%v", err)
		default:
			s.sendError(w, http.StatusUnprocessableEntity, "%v", err)
		}
		return
	}
	s.writeJSON(w, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) sendError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprintf(format, args...)}); err != nil {
		s.logger.Warn("writing JSON error response", "error", err, "status", status)
	}
}

// writeJSON encodes value as JSON into w. An encoding failure means the
// client went away, so it is only logged.
func (s *Server) writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Warn("writing JSON response", "error", err)
	}
}
