package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MJE43/keyscan/internal/checkpoint"
	"github.com/MJE43/keyscan/internal/keyspace"
	"github.com/MJE43/keyscan/internal/runner"
	"github.com/MJE43/keyscan/internal/scan"
	"github.com/MJE43/keyscan/internal/store"
)

// handleStart handles POST /start.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req runner.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", "invalid JSON: "+err.Error())
		return
	}
	if err := ValidateStartRequest(&req); err != nil {
		var fe *FieldError
		if errors.As(err, &fe) {
			s.errorHandler.HandleValidationError(w, r, fe.Field, fe.Message)
			return
		}
		s.errorHandler.HandleValidationError(w, r, "request", err.Error())
		return
	}

	runID, err := s.engine.Start(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.logger.Info("scan started",
		zap.String("run_id", runID),
		zap.Bool("resume", req.Resume))
	s.writeJSON(w, http.StatusAccepted, StatusResponse{Status: "started", RunID: runID})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.engine.Pause, "paused")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.engine.Resume, "resumed")
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.engine.Stop, "stopping")
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, op func() error, status string) {
	if err := op(); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: status})
}

// handleProgress handles GET /progress.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleClearLog handles GET and POST /clear_log.
func (s *Server) handleClearLog(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearLog(); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, ErrTypeInternal, "failed to clear log", err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: "cleared"})
}

// handleGetCheckpoint handles GET /checkpoint.
func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.Checkpoint(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleResetCheckpoint handles DELETE /checkpoint.
func (s *Server) handleResetCheckpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetCheckpoint(r.Context()); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{Status: "cleared"})
}

// handleListRuns handles GET /runs?page=&perPage=.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w, r) {
		return
	}
	page, err := parsePositive("page", r.URL.Query().Get("page"), 0)
	if err != nil {
		s.handleFieldError(w, r, err)
		return
	}
	perPage, err := parsePositive("perPage", r.URL.Query().Get("perPage"), maxPerPage)
	if err != nil {
		s.handleFieldError(w, r, err)
		return
	}

	list, err := s.history.ListRuns(r.Context(), store.RunsQuery{Page: page, PerPage: perPage})
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, ErrTypeInternal, "failed to list runs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleGetRun handles GET /runs/{id}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w, r) {
		return
	}
	run, err := s.history.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleGetMatches handles GET /runs/{id}/matches.
func (s *Server) handleGetMatches(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.history.GetRun(r.Context(), id); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	matches, err := s.history.GetMatches(r.Context(), id)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, ErrTypeInternal, "failed to load matches", err)
		return
	}
	if matches == nil {
		matches = []store.Match{}
	}
	s.writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}

func (s *Server) requireHistory(w http.ResponseWriter, r *http.Request) bool {
	if s.history != nil {
		return true
	}
	s.writeError(w, r, http.StatusServiceUnavailable, ErrTypeServiceUnavailable, "run history is disabled", nil)
	return false
}

func (s *Server) handleFieldError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *FieldError
	if errors.As(err, &fe) {
		s.errorHandler.HandleValidationError(w, r, fe.Field, fe.Message)
		return
	}
	s.errorHandler.HandleValidationError(w, r, "query", err.Error())
}

// writeEngineError maps runner, scan, keyspace and store errors to a status
// and error type.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, runner.ErrScanRunning):
		s.writeError(w, r, http.StatusConflict, ErrTypeScanRunning, "scan already running", nil)
	case errors.Is(err, runner.ErrNotRunning):
		s.writeError(w, r, http.StatusConflict, ErrTypeNotRunning, "no scan running", nil)
	case errors.Is(err, keyspace.ErrInvalidKeyFormat):
		s.writeError(w, r, http.StatusBadRequest, ErrTypeInvalidKey, "invalid key format", err)
	case errors.Is(err, keyspace.ErrInvalidInterval):
		s.writeError(w, r, http.StatusBadRequest, ErrTypeInvalidInterval, "invalid interval", err)
	case errors.Is(err, scan.ErrUnknownMode):
		s.writeError(w, r, http.StatusBadRequest, ErrTypeUnknownMode, "unknown mode", err)
	case errors.Is(err, scan.ErrInvalidRequest):
		s.writeError(w, r, http.StatusBadRequest, ErrTypeValidation, "invalid scan request", err)
	case errors.Is(err, runner.ErrNoCheckpoint), errors.Is(err, checkpoint.ErrNotFound):
		s.writeError(w, r, http.StatusNotFound, ErrTypeNotFound, "no checkpoint saved", nil)
	case errors.Is(err, store.ErrRunNotFound):
		s.writeError(w, r, http.StatusNotFound, ErrTypeNotFound, "run not found", nil)
	default:
		s.writeError(w, r, http.StatusInternalServerError, ErrTypeInternal, "internal error", err)
	}
}
