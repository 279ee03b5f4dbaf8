// Package api exposes the daemon's HTTP/JSON control surface. Controllers
// stay thin: request decoding, error mapping and delegation into the core
// services.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/auriora/wirefly/internal/conn"
	"github.com/auriora/wirefly/internal/events"
	"github.com/auriora/wirefly/internal/messaging"
	"github.com/auriora/wirefly/internal/search"
	"github.com/auriora/wirefly/internal/transfers"
	"github.com/auriora/wirefly/pkg/errors"
	"github.com/auriora/wirefly/pkg/logging"
)

// Version is reported by the application endpoint.
var Version = "0.1.0"

// inactivityTimeout is how long a search may sit in Requested before a
// cancel request force-cancels it even without a live handle.
const inactivityTimeout = 30 * time.Second

// Server is the HTTP API.
type Server struct {
	searches  *search.Service
	transfers *transfers.Service
	watchdog  *conn.Watchdog
	events    *events.Store
	messages  *messaging.Store
	hub       http.Handler
	apiKey    string
	startedAt time.Time

	httpServer *http.Server
}

// NewServer wires the API over the core services. An empty apiKey disables
// authentication.
func NewServer(addr string, searches *search.Service, transferSvc *transfers.Service,
	watchdog *conn.Watchdog, eventStore *events.Store, messageStore *messaging.Store,
	hubHandler http.Handler, apiKey string) *Server {
	s := &Server{
		searches:  searches,
		transfers: transferSvc,
		watchdog:  watchdog,
		events:    eventStore,
		messages:  messageStore,
		hub:       hubHandler,
		apiKey:    apiKey,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/searches", s.handleSearches)
	mux.HandleFunc("/api/v0/searches/", s.handleSearchByID)
	mux.HandleFunc("/api/v0/transfers/downloads", s.handleTransfers(transfers.Download))
	mux.HandleFunc("/api/v0/transfers/uploads", s.handleTransfers(transfers.Upload))
	mux.HandleFunc("/api/v0/server", s.handleServer)
	mux.HandleFunc("/api/v0/events", s.handleEvents)
	mux.HandleFunc("/api/v0/conversations/", s.handleConversation)
	mux.HandleFunc("/api/v0/application", s.handleApplication)
	mux.Handle("/hub", hubHandler)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.authenticate(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the root handler (auth middleware included), for tests
// and for embedding behind an existing listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe runs the HTTP server until Shutdown.
func (s *Server) ListenAndServe() error {
	logging.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// authenticate is the token-auth middleware. The hub endpoint accepts the
// key as a query parameter because browsers cannot set websocket headers.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("apiKey")
			}
			if key != s.apiKey {
				writeError(w, http.StatusUnauthorized, errors.New("invalid API key"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logging.Warn().Err(err).Msg("Could not encode API response")
		}
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, fallback int, err error) {
	status := errors.StatusCode(err, fallback)
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeServiceError maps a core error to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, err)
}
