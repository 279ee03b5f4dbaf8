package migrations_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/internal/migrations"
	"github.com/auriora/wirefly/internal/transfers"
)

func openAll(t *testing.T) (string, map[string]string, map[string]*sql.DB) {
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
	return dir, paths, conns
}

func runAll(t *testing.T, dir string, paths map[string]string, conns map[string]*sql.DB, force bool) error {
	t.Helper()
	migrator := db.NewMigrator(dir, paths)
	migrations.RegisterAll(migrator, conns["transfers"], conns["search"],
		conns["messaging"], conns["events"])
	return migrator.Run(context.Background(), force)
}

func TestInitialSchemasCreateAllStores(t *testing.T) {
	dir, paths, conns := openAll(t)
	require.NoError(t, runAll(t, dir, paths, conns, false))

	for conn, table := range map[*sql.DB]string{
		conns["transfers"]: "transfers",
		conns["search"]:    "searches",
		conns["messaging"]: "messages",
		conns["events"]:    "events",
	} {
		exists, err := db.HasTable(conn, table)
		require.NoError(t, err)
		assert.True(t, exists, "missing table %s", table)
	}
}

// Applying the full set twice has the same observable effect as once.
func TestMigrationsAreIdempotent(t *testing.T) {
	dir, paths, conns := openAll(t)
	require.NoError(t, runAll(t, dir, paths, conns, false))

	_, err := conns["transfers"].Exec(`
		INSERT INTO transfers (id, direction, username, filename, state,
			state_description, requested_at)
		VALUES ('t1', 'Upload', 'alice', 'a.flac', 16, 'Completed',
			'2024-05-01T12:00:00Z')`)
	require.NoError(t, err)

	// force ignores history, so every Apply runs again
	require.NoError(t, runAll(t, dir, paths, conns, true))

	var count int
	require.NoError(t, conns["transfers"].
		QueryRow(`SELECT COUNT(*) FROM transfers`).Scan(&count))
	assert.Equal(t, 1, count)

	columns, err := db.TableInfo(conns["transfers"], "transfers")
	require.NoError(t, err)
	assert.Len(t, columns, 18)
}

// The rename-copy-drop migration converts a legacy textual state column
// into the numeric bitflag while preserving the text as the description.
func TestTransfersStateTranslation(t *testing.T) {
	dir, paths, conns := openAll(t)
	conn := conns["transfers"]

	// legacy shape: state is TEXT
	_, err := conn.Exec(`CREATE TABLE transfers (
		id TEXT PRIMARY KEY,
		direction TEXT NOT NULL,
		username TEXT NOT NULL,
		filename TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		start_offset INTEGER NOT NULL DEFAULT 0,
		bytes_transferred INTEGER NOT NULL DEFAULT 0,
		average_speed REAL NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'None',
		requested_at TEXT NOT NULL,
		enqueued_at TEXT,
		started_at TEXT,
		ended_at TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		group_id TEXT,
		removed INTEGER NOT NULL DEFAULT 0,
		exception TEXT
	)`)
	require.NoError(t, err)
	_, err = conn.Exec(`
		INSERT INTO transfers (id, direction, username, filename, state, requested_at) VALUES
		('t1', 'Upload', 'alice', 'a.flac', 'Completed, Succeeded', '2024-05-01T12:00:00Z'),
		('t2', 'Download', 'bob', 'b.mp3', 'Queued, Remotely', '2024-05-01T13:00:00Z'),
		('t3', 'Upload', 'carol', 'c.ogg', 'None', '2024-05-01T14:00:00Z')`)
	require.NoError(t, err)

	require.NoError(t, runAll(t, dir, paths, conns, false))

	expect := map[string]struct {
		state transfers.State
		desc  string
	}{
		"t1": {transfers.StateCompleted | transfers.StateSucceeded, "Completed, Succeeded"},
		"t2": {transfers.StateQueued | transfers.StateRemotely, "Queued, Remotely"},
		"t3": {transfers.StateNone, "None"},
	}
	for id, want := range expect {
		var state int64
		var desc string
		require.NoError(t, conn.QueryRow(
			`SELECT state, state_description FROM transfers WHERE id = ?`, id).
			Scan(&state, &desc))
		assert.Equal(t, want.state, transfers.State(state), "state for %s", id)
		assert.Equal(t, want.desc, desc, "description for %s", id)
	}

	// the column is numeric now
	has, err := db.HasColumn(conn, "transfers", "state", "INTEGER")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = db.HasColumn(conn, "transfers", "state", "TEXT")
	require.NoError(t, err)
	assert.False(t, has)
}
