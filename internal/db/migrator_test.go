package db_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/pkg/errors"
)

type fakeMigration struct {
	needed   bool
	applied  int
	applyErr error
	apply    func(ctx context.Context) error
}

func (m *fakeMigration) NeedsToBeApplied(ctx context.Context) (bool, error) {
	return m.needed, nil
}

func (m *fakeMigration) Apply(ctx context.Context) error {
	m.applied++
	if m.apply != nil {
		return m.apply(ctx)
	}
	return m.applyErr
}

func writeStore(t *testing.T, path string, contents []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, contents, 0600))
}

// A failing migration restores every database byte-for-byte from its
// backup, leaves the history file untouched, and surfaces the cause.
func TestMigratorRestoresBackupsOnFailure(t *testing.T) {
	dir := t.TempDir()
	transfersPath := filepath.Join(dir, db.TransfersDB)
	searchPath := filepath.Join(dir, db.SearchDB)

	transfersBytes := []byte("transfers-original-content")
	searchBytes := []byte("search-original-content")
	writeStore(t, transfersPath, transfersBytes)
	writeStore(t, searchPath, searchBytes)

	m := db.NewMigrator(dir, map[string]string{
		"transfers": transfersPath,
		"search":    searchPath,
	})

	m1 := &fakeMigration{needed: true, apply: func(ctx context.Context) error {
		// M1 succeeds but corrupts nothing observable; scribble anyway so
		// restore has something to undo
		return os.WriteFile(transfersPath, []byte("m1-touched"), 0600)
	}}
	cause := errors.New("m2 exploded")
	m2 := &fakeMigration{needed: true, applyErr: cause}
	m.Register("M1", m1)
	m.Register("M2", m2)

	err := m.Run(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "M2")
	assert.True(t, errors.Is(err, cause))

	// both databases are back to their original bytes
	got, err2 := os.ReadFile(transfersPath)
	require.NoError(t, err2)
	assert.Equal(t, transfersBytes, got)
	got, err2 = os.ReadFile(searchPath)
	require.NoError(t, err2)
	assert.Equal(t, searchBytes, got)

	// backups were taken for both stores
	matches, err2 := filepath.Glob(transfersPath + ".pre-migration-backup.*.db")
	require.NoError(t, err2)
	assert.Len(t, matches, 1)
	matches, err2 = filepath.Glob(searchPath + ".pre-migration-backup.*.db")
	require.NoError(t, err2)
	assert.Len(t, matches, 1)

	// the history file was never written
	_, statErr := os.Stat(m.HistoryPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestMigratorSkipsAppliedMigrations(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, db.TransfersDB)
	writeStore(t, storePath, []byte("x"))

	applied := map[string]time.Time{"M1": time.Now().UTC()}
	require.NoError(t, db.SaveHistory(filepath.Join(dir, db.HistoryFile), applied))

	m := db.NewMigrator(dir, map[string]string{"transfers": storePath})
	m1 := &fakeMigration{needed: true}
	m2 := &fakeMigration{needed: true}
	m.Register("M1", m1)
	m.Register("M2", m2)

	require.NoError(t, m.Run(context.Background(), false))
	assert.Equal(t, 0, m1.applied, "history-recorded migration must not reapply")
	assert.Equal(t, 1, m2.applied)

	history, err := db.LoadHistory(filepath.Join(dir, db.HistoryFile))
	require.NoError(t, err)
	assert.Contains(t, history, "M1")
	assert.Contains(t, history, "M2")
}

func TestMigratorForceReappliesEverything(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, db.TransfersDB)
	writeStore(t, storePath, []byte("x"))
	require.NoError(t, db.SaveHistory(filepath.Join(dir, db.HistoryFile),
		map[string]time.Time{"M1": time.Now().UTC()}))

	m := db.NewMigrator(dir, map[string]string{"transfers": storePath})
	m1 := &fakeMigration{needed: true}
	m.Register("M1", m1)

	require.NoError(t, m.Run(context.Background(), true))
	assert.Equal(t, 1, m1.applied)
}

func TestMigratorConsultsNeedsToBeApplied(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, db.TransfersDB)
	writeStore(t, storePath, []byte("x"))

	m := db.NewMigrator(dir, map[string]string{"transfers": storePath})
	m1 := &fakeMigration{needed: false}
	m.Register("M1", m1)

	require.NoError(t, m.Run(context.Background(), false))
	assert.Equal(t, 0, m1.applied, "an unneeded migration is skipped but recorded")

	history, err := db.LoadHistory(filepath.Join(dir, db.HistoryFile))
	require.NoError(t, err)
	assert.Contains(t, history, "M1")
}

// A corrupt history file is advisory: it is logged and every migration is
// reapplied.
func TestMigratorCorruptHistoryReappliesAll(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, db.TransfersDB)
	writeStore(t, storePath, []byte("x"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, db.HistoryFile),
		[]byte("{not json"), 0600))

	m := db.NewMigrator(dir, map[string]string{"transfers": storePath})
	m1 := &fakeMigration{needed: true}
	m.Register("M1", m1)

	require.NoError(t, m.Run(context.Background(), false))
	assert.Equal(t, 1, m1.applied)
}

// Encoding a history to JSON and back yields the same name → timestamp set.
func TestHistoryRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, db.HistoryFile)

	original := map[string]time.Time{
		"CreateInitialTransfersSchema": time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC),
		"TransfersStateToBitflag":      time.Date(2024, 6, 15, 22, 45, 9, 0, time.UTC),
	}
	require.NoError(t, db.SaveHistory(path, original))

	loaded, err := db.LoadHistory(path)
	require.NoError(t, err)
	require.Len(t, loaded, len(original))
	for name, stamp := range original {
		assert.True(t, stamp.Equal(loaded[name]), "timestamp drifted for %s", name)
	}
}

func TestSchemaInspector(t *testing.T) {
	dir := t.TempDir()
	conn, err := db.Open(filepath.Join(dir, "inspect.db"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(`CREATE TABLE things (
		id TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 7,
		note TEXT
	)`)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE UNIQUE INDEX idx_things_note ON things (note)`)
	require.NoError(t, err)

	columns, err := db.TableInfo(conn, "things")
	require.NoError(t, err)
	require.Len(t, columns, 3)

	byName := map[string]db.Column{}
	for _, c := range columns {
		byName[c.Name] = c
	}
	assert.Equal(t, "TEXT", byName["id"].Type)
	assert.Equal(t, 1, byName["id"].PK)
	assert.True(t, byName["count"].NotNull)
	assert.Equal(t, "7", byName["count"].Default.String)
	assert.False(t, byName["note"].NotNull)

	indexes, err := db.Indexes(conn, "things")
	require.NoError(t, err)
	found := false
	for _, idx := range indexes {
		if idx.Name == "idx_things_note" {
			found = true
			assert.True(t, idx.Unique)
		}
	}
	assert.True(t, found)

	exists, err := db.HasTable(conn, "things")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = db.HasTable(conn, "nothing")
	require.NoError(t, err)
	assert.False(t, exists)
}
