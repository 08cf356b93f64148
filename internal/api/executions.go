package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Wangjien/snippetsHub/internal/engine"
	"github.com/Wangjien/snippetsHub/internal/model"
	"github.com/Wangjien/snippetsHub/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB

	// statusClientClosedRequest reports an execution cancelled before it finished.
	statusClientClosedRequest = 499
)

// executeResponse is the body of a synchronous execution. Result is absent
// when the request failed before a process could be started.
type executeResponse struct {
	ID string `json:"id"`
	*model.ExecutionResult
	Error string          `json:"error,omitempty"`
	Kind  model.ErrorKind `json:"kind,omitempty"`
}

// listExecutionsResponse wraps the paginated list response.
type listExecutionsResponse struct {
	Executions []*model.Execution `json:"executions"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

type stopResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type purgeResponse struct {
	Purged int64     `json:"purged"`
	Before time.Time `json:"before"`
}

func (s *Server) decodeExecuteRequest(w http.ResponseWriter, r *http.Request) (model.ExecuteRequest, bool) {
	var req model.ExecuteRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	if req.TimeoutMS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return req, false
	}
	return req, true
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExecuteRequest(w, r)
	if !ok {
		return
	}

	// A run may outlast the server-wide write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline", "error", err)
	}

	id := model.NewID()
	result, err := s.engine.ExecuteWithID(r.Context(), id, req.Code, req.Language, req.Options())

	resp := executeResponse{ID: id}
	kind := model.KindOf(err)
	switch kind {
	case "", model.KindTimedOut, model.KindCancelled:
		resp.ExecutionResult = &result
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = kind
	}
	s.writeJSON(w, statusForKind(kind), resp)
}

// statusForKind maps an execution error kind onto an HTTP status.
func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case model.KindInvalidRequest:
		return http.StatusBadRequest
	case model.KindRuntimeNotFound:
		return http.StatusNotFound
	case model.KindTimedOut:
		return http.StatusRequestTimeout
	case model.KindCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeExecuteRequest(w, r)
	if !ok {
		return
	}

	rec, err := s.engine.Submit(r.Context(), req.Code, req.Language, req.Options())
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, rec)
	case errors.Is(err, engine.ErrNoHistory):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, model.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrRuntimeNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrCancelled):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("submit execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit execution")
	}
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.Error("get execution", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	execs, total, err := s.store.ListExecutions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if execs == nil {
		execs = []*model.Execution{}
	}

	s.writeJSON(w, http.StatusOK, listExecutionsResponse{
		Executions: execs,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleListRunning(w http.ResponseWriter, _ *http.Request) {
	running := s.engine.Running()
	if running == nil {
		running = []engine.SessionInfo{}
	}
	s.writeJSON(w, http.StatusOK, running)
}

func (s *Server) handleStopExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.engine.Stop(id)
	if err == nil {
		s.writeJSON(w, http.StatusAccepted, stopResponse{ID: id, Status: "stopping"})
		return
	}
	if !errors.Is(err, engine.ErrSessionNotFound) {
		s.logger.Error("stop execution", "execution_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to stop execution")
		return
	}

	rec, gerr := s.store.GetExecution(r.Context(), id)
	if errors.Is(gerr, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if gerr != nil {
		s.logger.Error("get execution to stop", "error", gerr)
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}
	s.writeError(w, http.StatusConflict, "execution is already "+rec.Status)
}

// handlePurgeExecutions deletes finished history older than the
// ?older_than=<duration> or ?before=<RFC3339> cutoff.
func (s *Server) handlePurgeExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var before time.Time
	switch {
	case q.Get("older_than") != "":
		d, err := time.ParseDuration(q.Get("older_than"))
		if err != nil || d < 0 {
			s.writeError(w, http.StatusBadRequest, "older_than must be a non-negative duration")
			return
		}
		before = time.Now().UTC().Add(-d)
	case q.Get("before") != "":
		t, err := time.Parse(time.RFC3339, q.Get("before"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
			return
		}
		before = t.UTC()
	default:
		s.writeError(w, http.StatusBadRequest, "older_than or before is required")
		return
	}

	n, err := s.store.PurgeExecutions(r.Context(), before)
	if err != nil {
		s.logger.Error("purge executions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to purge executions")
		return
	}
	s.logger.Info("purged executions", "count", n, "before", before)
	s.writeJSON(w, http.StatusOK, purgeResponse{Purged: n, Before: before})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
