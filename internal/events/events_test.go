package events_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/internal/events"
	"github.com/auriora/wirefly/internal/migrations"
)

func openEvents(t *testing.T) *sql.DB {
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
	return conns["events"]
}

func TestEventsAppendAndList(t *testing.T) {
	store := events.NewStore(openEvents(t))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, events.TypeConnected, nil))
	require.NoError(t, store.Append(ctx, events.TypeSearchCompleted,
		map[string]interface{}{"responses": 12}))

	list, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	// newest first
	assert.Equal(t, events.TypeSearchCompleted, list[0].Type)
	assert.NotEmpty(t, list[0].Data)
	assert.Equal(t, events.TypeConnected, list[1].Type)
	assert.Empty(t, list[1].Data)
}

func TestEventsPrune(t *testing.T) {
	store := events.NewStore(openEvents(t))
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, events.TypeConnected, nil))
	n, err := store.Prune(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
