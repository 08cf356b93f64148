package api

import (
	"net/http"

	"github.com/Wangjien/snippetsHub/internal/supervisor"
)

type healthResponse struct {
	Status            string `json:"status"`
	RuntimesProbed    bool   `json:"runtimes_probed"`
	RunningExecutions int    `json:"running_executions"`
	// MemoryLimits reports whether memory_limit is enforced on this host.
	MemoryLimits bool `json:"memory_limits"`
}

// handleHealthz reports liveness. It never triggers runtime discovery.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:            "ok",
		RuntimesProbed:    !s.runtimes.DiscoveredAt().IsZero(),
		RunningExecutions: len(s.engine.Running()),
		MemoryLimits:      supervisor.MemoryLimitSupported,
	})
}
