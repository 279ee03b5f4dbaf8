package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/auriora/wirefly/internal/transfers"
	"github.com/auriora/wirefly/pkg/errors"
)

func (s *Server) handleTransfers(direction transfers.Direction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		if live, _ := strconv.ParseBool(r.URL.Query().Get("live")); live {
			writeJSON(w, http.StatusOK, s.transfers.Active(direction))
			return
		}

		includeRemoved, _ := strconv.ParseBool(r.URL.Query().Get("includeRemoved"))
		list, err := s.transfers.List(r.Context(), direction, includeRemoved)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.events.List(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.NewValidationError("invalid request body", err)
	}
	return nil
}
