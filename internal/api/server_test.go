package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/wirefly/internal/api"
	"github.com/auriora/wirefly/internal/conn"
	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/internal/events"
	"github.com/auriora/wirefly/internal/hub"
	"github.com/auriora/wirefly/internal/messaging"
	"github.com/auriora/wirefly/internal/migrations"
	"github.com/auriora/wirefly/internal/options"
	"github.com/auriora/wirefly/internal/peer"
	"github.com/auriora/wirefly/internal/search"
	"github.com/auriora/wirefly/internal/shares"
	"github.com/auriora/wirefly/internal/transfers"
)

type fixture struct {
	server *api.Server
	mux    http.Handler
	client *peer.MockClient
}

func newFixture(t *testing.T, apiKey string) *fixture {
	t.Helper()
	dir := t.TempDir()
	paths := map[string]string{
		"search":    filepath.Join(dir, db.SearchDB),
		"transfers": filepath.Join(dir, db.TransfersDB),
		"messaging": filepath.Join(dir, db.MessagingDB),
		"events":    filepath.Join(dir, db.EventsDB),
	}
	conns := map[string]*sql.DB{}
	for name, path := range paths {
		conn, err := db.Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		conns[name] = conn
	}
	migrator := db.NewMigrator(dir, paths)
	migrations.RegisterAll(migrator, conns["transfers"], conns["search"],
		conns["messaging"], conns["events"])
	require.NoError(t, migrator.Run(context.Background(), false))

	stream := options.NewStream(options.Options{
		Uploads: options.Uploads{MaxSlots: 2},
	})
	index, err := shares.Open(filepath.Join(dir, "shares.db"))
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	client := &peer.MockClient{}
	governor := transfers.NewGovernor(stream.Current())
	t.Cleanup(governor.Close)
	transferSvc := transfers.NewService(transfers.NewTracker(),
		transfers.NewStore(conns["transfers"]), transfers.NewQueue(stream.Current()),
		governor, index, stream)
	t.Cleanup(transferSvc.Close)

	pushHub := hub.NewHub()
	searchSvc := search.NewService(client, search.NewStore(conns["search"]), pushHub)
	watchdog := conn.NewWatchdog(client, stream, nil)
	t.Cleanup(watchdog.Close)

	server := api.NewServer("127.0.0.1:0", searchSvc, transferSvc, watchdog,
		events.NewStore(conns["events"]), messaging.NewStore(conns["messaging"]),
		pushHub, apiKey)
	return &fixture{server: server, mux: server.Handler(), client: client}
}

func (f *fixture) do(t *testing.T, method, path, body, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestAPIRequiresKeyWhenConfigured(t *testing.T) {
	f := newFixture(t, "sekrit")

	rec := f.do(t, http.MethodGet, "/api/v0/application", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v0/application", "", "sekrit")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIApplicationReportsVersion(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/api/v0/application", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, api.Version, status["version"])
}

func TestAPISearchLifecycle(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v0/searches",
		`{"searchText": "free jazz"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var created search.Search
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "free jazz", created.SearchText)

	// the mock client completes instantly, so the record becomes terminal
	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/v0/searches/"+created.ID.String(), "", "")
		if rec.Code != http.StatusOK {
			return false
		}
		var got search.Search
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.State.Terminal()
	}, 2*time.Second, 20*time.Millisecond)

	rec = f.do(t, http.MethodGet, "/api/v0/searches", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v0/searches/"+created.ID.String(), "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v0/searches/"+created.ID.String(), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIUnknownSearchIs404(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/api/v0/searches/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIBadSearchIDIs400(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodGet, "/api/v0/searches/not-a-uuid", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIEmptySearchTextIs400(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(t, http.MethodPost, "/api/v0/searches", `{"searchText": ""}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPITransfersListEmpty(t *testing.T) {
	f := newFixture(t, "")
	for _, path := range []string{
		"/api/v0/transfers/downloads",
		"/api/v0/transfers/uploads",
	} {
		rec := f.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAPIServerControl(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/v0/server", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state conn.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.False(t, state.Connected)

	rec = f.do(t, http.MethodPut, "/api/v0/server", `{"action": "bounce"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v0/server", `{"action": "connect"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
