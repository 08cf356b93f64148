package api

import (
	"net/http"

	"github.com/Wangjien/snippetsHub/internal/engine"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int                  `json:"total"`
	ByStatus      map[string]int       `json:"by_status"`
	ByLanguage    map[string]int       `json:"by_language"`
	AvgDurationMS float64              `json:"avg_duration_ms"`
	SuccessRate   float64              `json:"success_rate"`
	Running       []engine.SessionInfo `json:"running"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetExecutionStats(r.Context())
	if err != nil {
		s.logger.Error("get execution stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	running := s.engine.Running()
	if running == nil {
		running = []engine.SessionInfo{}
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByLanguage:    stats.CountByLanguage,
		AvgDurationMS: stats.AvgDurationMS,
		SuccessRate:   stats.SuccessRate,
		Running:       running,
	})
}
