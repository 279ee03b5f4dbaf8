package api

import (
	"net/http"
	"time"

	"github.com/auriora/wirefly/pkg/errors"
)

type serverControlRequest struct {
	Action string `json:"action"` // "connect" or "disconnect"
}

type applicationStatus struct {
	Version   string    `json:"version"`
	StartedAt time.Time `json:"startedAt"`
	UptimeSec int64     `json:"uptimeSeconds"`
}

func (s *Server) handleServer(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.watchdog.CurrentState())

	case http.MethodPut:
		var req serverControlRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		switch req.Action {
		case "connect":
			s.watchdog.Start()
		case "disconnect":
			if err := s.watchdog.Disconnect("disconnected by request"); err != nil {
				writeServiceError(w, err)
				return
			}
		default:
			writeError(w, http.StatusBadRequest,
				errors.NewValidationError("action must be connect or disconnect", nil))
			return
		}
		writeJSON(w, http.StatusOK, s.watchdog.CurrentState())

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleApplication(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, applicationStatus{
		Version:   Version,
		StartedAt: s.startedAt,
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
	})
}
