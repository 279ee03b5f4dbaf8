package messaging_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/internal/migrations"
	"github.com/auriora/wirefly/internal/messaging"
)

func openMessaging(t *testing.T) *sql.DB {
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
	return conns["messaging"]
}

func TestMessagesAppendListAcknowledge(t *testing.T) {
	store := messaging.NewStore(openMessaging(t))
	ctx := context.Background()

	at := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, "alice", "hi there", at))
	require.NoError(t, store.Append(ctx, "alice", "you around?", at.Add(time.Minute)))
	require.NoError(t, store.Append(ctx, "bob", "unrelated", at))

	msgs, err := store.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi there", msgs[0].Message)
	assert.True(t, msgs[0].Timestamp.Equal(at))
	assert.False(t, msgs[0].Acknowledged)

	require.NoError(t, store.Acknowledge(ctx, "alice"))
	msgs, err = store.ListByUser(ctx, "alice")
	require.NoError(t, err)
	for _, m := range msgs {
		assert.True(t, m.Acknowledged)
	}

	other, err := store.ListByUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.False(t, other[0].Acknowledged)
}
