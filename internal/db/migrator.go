package db

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/auriora/wirefly/pkg/errors"
	"github.com/auriora/wirefly/pkg/logging"
)

// HistoryFile is the advisory record of applied migrations, stored as a
// single JSON document next to the databases.
const HistoryFile = "migration.history"

// Migration is one schema change. NeedsToBeApplied is read-only; Apply must
// be idempotent — applying a migration twice has the same observable effect
// as applying it once.
type Migration interface {
	NeedsToBeApplied(ctx context.Context) (bool, error)
	Apply(ctx context.Context) error
}

// Migrator applies an ordered set of named migrations across the store
// files, backing every file up first and restoring all of them when any
// migration fails. It is single-threaded by construction and must run to
// completion before any other subsystem starts.
type Migrator struct {
	dataDir    string
	databases  map[string]string // store name -> file path
	order      []string
	migrations map[string]Migration
	now        func() time.Time
}

// NewMigrator creates a migrator over the given store files. The history
// file lives in dataDir.
func NewMigrator(dataDir string, databases map[string]string) *Migrator {
	return &Migrator{
		dataDir:    dataDir,
		databases:  databases,
		migrations: make(map[string]Migration),
		now:        time.Now,
	}
}

// Register appends a migration under its class-level name. Registration
// order is application order.
func (m *Migrator) Register(name string, migration Migration) {
	if _, exists := m.migrations[name]; exists {
		logging.Fatal().Str("migration", name).Msg("Duplicate migration registered")
	}
	m.order = append(m.order, name)
	m.migrations[name] = migration
}

// Run applies every migration not yet recorded in the history file. With
// force set, the history is ignored and everything is reapplied (each
// migration's own idempotence makes this safe).
func (m *Migrator) Run(ctx context.Context, force bool) error {
	applied := map[string]time.Time{}
	if !force {
		applied = m.loadHistory()
	}

	var pending []string
	for _, name := range m.order {
		if _, done := applied[name]; !done {
			pending = append(pending, name)
		}
	}
	if len(pending) == 0 {
		logging.Debug().Msg("No migrations to apply")
		return nil
	}
	logging.Info().Strs("migrations", pending).Msg("Applying migrations")

	backups, err := m.backupAll()
	if err != nil {
		return errors.Wrap(err, "backing up databases before migration")
	}

	for _, name := range pending {
		if err := m.apply(ctx, name); err != nil {
			logging.Error().Err(err).Str("migration", name).
				Msg("Migration failed, restoring databases from backup")
			if restoreErr := m.restoreAll(backups); restoreErr != nil {
				return errors.Wrapf(restoreErr,
					"restoring databases after migration %s failed with: %v", name, err)
			}
			return errors.Wrapf(err, "migration %s failed; databases restored from backup", name)
		}
		applied[name] = m.now().UTC().Truncate(time.Second)
	}

	if err := m.saveHistory(applied); err != nil {
		// the history file is advisory; the migrations themselves are
		// idempotent, so a write failure only costs a re-check next start
		logging.Warn().Err(err).Msg("Could not persist migration history")
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, name string) error {
	migration := m.migrations[name]

	needed, err := migration.NeedsToBeApplied(ctx)
	if err != nil {
		return errors.Wrapf(err, "checking migration %s", name)
	}
	if !needed {
		logging.Debug().Str("migration", name).Msg("Migration already applied, skipping")
		return nil
	}

	logging.Info().Str("migration", name).Msg("Applying migration")
	return migration.Apply(ctx)
}

// HistoryPath returns the absolute path of the history file.
func (m *Migrator) HistoryPath() string {
	return filepath.Join(m.dataDir, HistoryFile)
}

func (m *Migrator) loadHistory() map[string]time.Time {
	history, err := LoadHistory(m.HistoryPath())
	if err != nil {
		if !os.IsNotExist(errors.Unwrap(err)) && !os.IsNotExist(err) {
			logging.Warn().Err(err).Msg("Could not read migration history, reapplying all migrations")
		}
		return map[string]time.Time{}
	}
	return history
}

func (m *Migrator) saveHistory(applied map[string]time.Time) error {
	return SaveHistory(m.HistoryPath(), applied)
}

// LoadHistory reads a history file: a JSON object of migration name to UTC
// application timestamp.
func LoadHistory(path string) (map[string]time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing migration history")
	}
	history := make(map[string]time.Time, len(raw))
	for name, stamp := range raw {
		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing migration history timestamp for %s", name)
		}
		history[name] = t.UTC()
	}
	return history, nil
}

// SaveHistory writes the history file atomically.
func SaveHistory(path string, history map[string]time.Time) error {
	raw := make(map[string]string, len(history))
	for name, stamp := range history {
		raw[name] = stamp.UTC().Truncate(time.Second).Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// backupAll copies every existing store file to
// <db>.pre-migration-backup.<timestamp>.db. Backups are kept after success
// for manual rollback. Any single failure aborts the whole run.
func (m *Migrator) backupAll() (map[string]string, error) {
	stamp := m.now().UTC().Unix()
	backups := make(map[string]string)
	for store, path := range m.databases {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		backup := fmt.Sprintf("%s.pre-migration-backup.%d.db", path, stamp)
		if err := copyFile(path, backup); err != nil {
			return nil, errors.Wrapf(err, "backing up %s store", store)
		}
		logging.Debug().Str("store", store).Str("backup", backup).Msg("Database backed up")
		backups[path] = backup
	}
	return backups, nil
}

// restoreAll copies every backup back over its database, byte for byte.
func (m *Migrator) restoreAll(backups map[string]string) error {
	for path, backup := range backups {
		if err := copyFile(backup, path); err != nil {
			return errors.Wrapf(err, "restoring %s from %s", path, backup)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
