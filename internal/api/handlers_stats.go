package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	model := s.orchestrator.Model()
	if model == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":       model.Model(),
		"queue_depth": s.orchestrator.QueueDepth(),
		"stats":       model.Stats().Snapshot(),
	})
}
