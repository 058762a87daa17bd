package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/kcmh-his/sql-copilot/internal/orchestrator"
	"github.com/kcmh-his/sql-copilot/internal/rolefilter"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// handleChat runs one orchestrator turn and redacts the response for
// the caller's role before returning it — the only place in this
// service where a role check gates what a caller sees.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp := s.orchestrator.HandleMessage(r.Context(), orchestrator.ChatRequest{
		Message:   req.Message,
		SessionID: req.SessionID,
	})
	resp = rolefilter.Apply(resp, rolefilter.Role(user.Role))

	writeJSON(w, http.StatusOK, resp)
}
