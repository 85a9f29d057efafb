package httpapi

import "net/http"

// handlePerfLatency reports rolling session-start latency percentiles.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "metrics not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStartStages())
}
