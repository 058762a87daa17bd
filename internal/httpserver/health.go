package httpserver

import (
	"context"
	"net/http"
	"time"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// handleHealth reports "healthy"/"connected" when a ping against the
// pool succeeds and "degraded"/"disconnected" otherwise — it never
// fails the request itself, matching the original health check, which
// always returns 200 with a status field rather than an HTTP error.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.exec.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "health check: database ping failed", "error", err)
		writeJSON(w, http.StatusOK, healthResponse{Status: "degraded", Database: "disconnected"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Database: "connected"})
}
