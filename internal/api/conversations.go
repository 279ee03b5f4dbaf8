package api

import (
	"net/http"
	"strings"

	"github.com/auriora/wirefly/pkg/errors"
)

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimPrefix(r.URL.Path, "/api/v0/conversations/")
	if username == "" || strings.Contains(username, "/") {
		writeError(w, http.StatusBadRequest,
			errors.NewValidationError("invalid conversation username", nil))
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := s.messages.ListByUser(r.Context(), username)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPut:
		if err := s.messages.Acknowledge(r.Context(), username); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
