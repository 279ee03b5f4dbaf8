// Package migrations holds the production schema migrations for the
// daemon's stores, registered against the generic migrator in internal/db.
package migrations

import (
	"context"
	"database/sql"

	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/internal/transfers"
	"github.com/auriora/wirefly/pkg/errors"
)

// Production migration names, in application order. Development utilities
// (seed data and the like) are deliberately not part of this registry.
const (
	MigrationTransfersSchema      = "CreateInitialTransfersSchema"
	MigrationSearchSchema         = "CreateInitialSearchSchema"
	MigrationMessagingSchema      = "CreateInitialMessagingSchema"
	MigrationEventsSchema         = "CreateInitialEventsSchema"
	MigrationTransfersStateToBits = "TransfersStateToBitflag"
)

// RegisterAll registers the production migrations against the open store
// connections, in order.
func RegisterAll(m *db.Migrator, transfersDB, searchDB, messagingDB, eventsDB *sql.DB) {
	m.Register(MigrationTransfersSchema, &schemaMigration{
		conn:  transfersDB,
		table: "transfers",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS transfers (
				id TEXT PRIMARY KEY,
				direction TEXT NOT NULL,
				username TEXT NOT NULL,
				filename TEXT NOT NULL,
				size INTEGER NOT NULL DEFAULT 0,
				start_offset INTEGER NOT NULL DEFAULT 0,
				bytes_transferred INTEGER NOT NULL DEFAULT 0,
				average_speed REAL NOT NULL DEFAULT 0,
				state INTEGER NOT NULL DEFAULT 0,
				state_description TEXT NOT NULL DEFAULT 'None',
				requested_at TEXT NOT NULL,
				enqueued_at TEXT,
				started_at TEXT,
				ended_at TEXT,
				attempts INTEGER NOT NULL DEFAULT 0,
				group_id TEXT,
				removed INTEGER NOT NULL DEFAULT 0,
				exception TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_transfers_direction ON transfers (direction)`,
			`CREATE INDEX IF NOT EXISTS idx_transfers_state ON transfers (state)`,
			`CREATE INDEX IF NOT EXISTS idx_transfers_removed ON transfers (removed)`,
			`CREATE INDEX IF NOT EXISTS idx_transfers_group_id ON transfers (group_id)`,
			`CREATE INDEX IF NOT EXISTS idx_transfers_username_filename
				ON transfers (username, filename)`,
			`CREATE INDEX IF NOT EXISTS idx_transfers_history
				ON transfers (username, direction, ended_at, started_at, state, size)`,
		},
	})

	m.Register(MigrationSearchSchema, &schemaMigration{
		conn:  searchDB,
		table: "searches",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS searches (
				id TEXT PRIMARY KEY,
				search_text TEXT NOT NULL,
				token INTEGER NOT NULL,
				state INTEGER NOT NULL DEFAULT 0,
				started_at TEXT NOT NULL,
				ended_at TEXT,
				response_count INTEGER NOT NULL DEFAULT 0,
				file_count INTEGER NOT NULL DEFAULT 0,
				locked_file_count INTEGER NOT NULL DEFAULT 0,
				responses TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_searches_started_at ON searches (started_at)`,
			`CREATE INDEX IF NOT EXISTS idx_searches_state ON searches (state)`,
		},
	})

	m.Register(MigrationMessagingSchema, &schemaMigration{
		conn:  messagingDB,
		table: "messages",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				username TEXT NOT NULL,
				message TEXT NOT NULL,
				acknowledged INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_username ON messages (username)`,
		},
	})

	m.Register(MigrationEventsSchema, &schemaMigration{
		conn:  eventsDB,
		table: "events",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				type TEXT NOT NULL,
				data TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp)`,
		},
	})

	m.Register(MigrationTransfersStateToBits, &transfersStateMigration{conn: transfersDB})
}

// schemaMigration creates a table and its indexes. Apply is idempotent via
// IF NOT EXISTS.
type schemaMigration struct {
	conn       *sql.DB
	table      string
	statements []string
}

func (m *schemaMigration) NeedsToBeApplied(ctx context.Context) (bool, error) {
	exists, err := db.HasTable(m.conn, m.table)
	return !exists, err
}

func (m *schemaMigration) Apply(ctx context.Context) error {
	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "creating %s schema", m.table)
		}
	}
	return tx.Commit()
}

// transfersStateMigration converts a textual transfers.state column to the
// numeric bitflag, preserving the text in state_description. SQLite cannot
// alter a column type, so this is the rename-copy-drop pattern inside one
// transaction.
type transfersStateMigration struct {
	conn *sql.DB
}

func (m *transfersStateMigration) NeedsToBeApplied(ctx context.Context) (bool, error) {
	exists, err := db.HasTable(m.conn, "transfers")
	if err != nil || !exists {
		return false, err
	}
	return db.HasColumn(m.conn, "transfers", "state", "TEXT")
}

func (m *transfersStateMigration) Apply(ctx context.Context) error {
	// re-check inside Apply so a forced re-run stays idempotent
	needed, err := m.NeedsToBeApplied(ctx)
	if err != nil || !needed {
		return err
	}

	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []string{
		`ALTER TABLE transfers RENAME TO transfers_old`,
		`CREATE TABLE transfers (
			id TEXT PRIMARY KEY,
			direction TEXT NOT NULL,
			username TEXT NOT NULL,
			filename TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			start_offset INTEGER NOT NULL DEFAULT 0,
			bytes_transferred INTEGER NOT NULL DEFAULT 0,
			average_speed REAL NOT NULL DEFAULT 0,
			state INTEGER NOT NULL DEFAULT 0,
			state_description TEXT NOT NULL DEFAULT 'None',
			requested_at TEXT NOT NULL,
			enqueued_at TEXT,
			started_at TEXT,
			ended_at TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			group_id TEXT,
			removed INTEGER NOT NULL DEFAULT 0,
			exception TEXT
		)`,
		`INSERT INTO transfers (id, direction, username, filename, size, start_offset,
			bytes_transferred, average_speed, state, state_description, requested_at,
			enqueued_at, started_at, ended_at, attempts, group_id, removed, exception)
			SELECT id, direction, username, filename, size, start_offset,
			bytes_transferred, average_speed, 0, state, requested_at,
			enqueued_at, started_at, ended_at, attempts, group_id, removed, exception
			FROM transfers_old`,
		`DROP TABLE transfers_old`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_direction ON transfers (direction)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_state ON transfers (state)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_removed ON transfers (removed)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_group_id ON transfers (group_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_username_filename
			ON transfers (username, filename)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_history
			ON transfers (username, direction, ended_at, started_at, state, size)`,
	}
	for _, stmt := range steps {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "rewriting transfers schema")
		}
	}

	// translate the preserved textual states into bitflags
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT state_description FROM transfers`)
	if err != nil {
		return errors.Wrap(err, "reading states to translate")
	}
	var descriptions []string
	for rows.Next() {
		var desc string
		if err := rows.Scan(&desc); err != nil {
			_ = rows.Close()
			return err
		}
		descriptions = append(descriptions, desc)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, desc := range descriptions {
		state, err := transfers.ParseState(desc)
		if err != nil {
			return errors.Wrapf(err, "translating transfer state %q", desc)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE transfers SET state = ? WHERE state_description = ?`,
			int64(state), desc); err != nil {
			return err
		}
	}

	return tx.Commit()
}
