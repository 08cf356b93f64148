package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Wangjien/snippetsHub/internal/model"
	"github.com/Wangjien/snippetsHub/internal/supervisor"
)

type runtimesResponse struct {
	Runtimes     []model.RuntimeInfo `json:"runtimes"`
	DiscoveredAt time.Time           `json:"discovered_at"`
	MemoryLimits bool                `json:"memory_limits"`
}

// handleListRuntimes lists the catalog. ?available=true restricts the list to
// runtimes found on this host.
func (s *Server) handleListRuntimes(w http.ResponseWriter, r *http.Request) {
	var list []model.RuntimeInfo
	if onlyAvailable, _ := strconv.ParseBool(r.URL.Query().Get("available")); onlyAvailable {
		list = s.runtimes.Available(r.Context())
	} else {
		list = s.runtimes.List(r.Context())
	}
	s.writeRuntimes(w, list)
}

func (s *Server) handleRefreshRuntimes(w http.ResponseWriter, r *http.Request) {
	list := s.runtimes.Refresh(r.Context())
	s.logger.Info("runtimes refreshed", "count", len(list))
	s.writeRuntimes(w, list)
}

func (s *Server) writeRuntimes(w http.ResponseWriter, list []model.RuntimeInfo) {
	if list == nil {
		list = []model.RuntimeInfo{}
	}
	s.writeJSON(w, http.StatusOK, runtimesResponse{
		Runtimes:     list,
		DiscoveredAt: s.runtimes.DiscoveredAt(),
		MemoryLimits: supervisor.MemoryLimitSupported,
	})
}

// installRequest is the body of a package install; the language comes from
// the path.
type installRequest struct {
	Package   string `json:"package"`
	Version   string `json:"version,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

type installResponse struct {
	*model.InstallResult
	Error string          `json:"error,omitempty"`
	Kind  model.ErrorKind `json:"kind,omitempty"`
}

// handleInstallPackage runs the language's package manager synchronously.
// A package manager that exits non-zero still answers 200 with success false.
func (s *Server) handleInstallPackage(w http.ResponseWriter, r *http.Request) {
	var body installRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.TimeoutMS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_ms must not be negative")
		return
	}

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline", "error", err)
	}

	result, err := s.engine.Install(r.Context(), model.InstallRequest{
		Language:  chi.URLParam(r, "language"),
		Package:   body.Package,
		Version:   body.Version,
		TimeoutMS: body.TimeoutMS,
	})
	var resp installResponse
	kind := model.KindOf(err)
	switch kind {
	case "", model.KindTimedOut, model.KindCancelled:
		resp.InstallResult = &result
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = kind
	}
	s.writeJSON(w, statusForKind(kind), resp)
}
