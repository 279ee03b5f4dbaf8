package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auriora/wirefly/internal/peer"
	"github.com/auriora/wirefly/internal/search"
	"github.com/auriora/wirefly/pkg/errors"
)

type startSearchRequest struct {
	ID         string             `json:"id,omitempty"`
	SearchText string             `json:"searchText"`
	Scope      *peer.Scope        `json:"scope,omitempty"`
	Options    peer.SearchOptions `json:"options"`
}

func (s *Server) handleSearches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.searches.List(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPost:
		var req startSearchRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		id := uuid.Nil
		if req.ID != "" {
			parsed, err := uuid.Parse(req.ID)
			if err != nil {
				writeError(w, http.StatusBadRequest,
					errors.NewValidationError("invalid search id", err))
				return
			}
			id = parsed
		}
		scope := peer.Scope{Type: peer.ScopeNetwork}
		if req.Scope != nil {
			scope = *req.Scope
		}

		record, err := s.searches.Start(r.Context(), id, req.SearchText, scope, req.Options)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, record)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSearchByID(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/v0/searches/")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.NewValidationError("invalid search id", err))
		return
	}

	switch r.Method {
	case http.MethodGet:
		includeResponses, _ := strconv.ParseBool(r.URL.Query().Get("includeResponses"))
		record, err := s.searches.Find(r.Context(), id, includeResponses)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)

	case http.MethodPut:
		// cancel: prefer the live handle; fall back to a forced terminal
		// transition when the record never progressed past Requested and
		// has been inactive past the timeout
		if s.searches.TryCancel(id) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		record, err := s.searches.Find(r.Context(), id, false)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		stale := record.State == search.StateRequested &&
			time.Since(record.StartedAt) > inactivityTimeout
		if !stale {
			writeError(w, http.StatusConflict,
				errors.New("search has no live handle and is not stale"))
			return
		}
		if _, err := s.searches.ForceCancel(r.Context(), record); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if s.searches.Active(id) {
			writeError(w, http.StatusConflict, errors.New("search is still in progress"))
			return
		}
		record, err := s.searches.Find(r.Context(), id, false)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if err := s.searches.Delete(r.Context(), record); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
