// Package db owns the embedded relational stores: opening the per-store
// SQLite databases, inspecting their schemas, and evolving them through
// ordered, idempotent, backup-guarded migrations.
package db

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/auriora/wirefly/pkg/errors"
)

// Store file names. One database file exists per logical store.
const (
	SearchDB    = "search.db"
	TransfersDB = "transfers.db"
	MessagingDB = "messaging.db"
	EventsDB    = "events.db"
)

// TimeFormat is how timestamps round-trip through the stores: RFC3339 with
// nanoseconds, always UTC.
const TimeFormat = time.RFC3339Nano

// Open opens (creating if needed) the SQLite database at path with the
// settings every store relies on: a busy timeout so concurrent writers
// queue instead of failing, and foreign keys on.
func Open(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_busy_timeout=5000&_fk=true"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database "+path)
	}
	// sqlite handles one writer at a time; keeping a single connection
	// avoids SQLITE_BUSY churn between the services
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "opening database "+path)
	}
	return conn, nil
}

// FormatTime renders a timestamp for storage, forcing UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// FormatNullableTime renders an optional timestamp for storage.
func FormatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// ParseTime parses a stored timestamp, which must carry a zone offset. The
// result is always returned in UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		// older rows may carry second precision
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, errors.Wrap(err, "parsing stored timestamp "+s)
		}
	}
	return t.UTC(), nil
}

// ParseNullableTime parses an optional stored timestamp.
func ParseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
