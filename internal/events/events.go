// Package events is the durable daemon event log: connection changes,
// search lifecycle and transfer outcomes are appended here so user
// interfaces can show history across restarts.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/pkg/errors"
)

// Event types recorded by the daemon.
const (
	TypeConnected        = "Connected"
	TypeDisconnected     = "Disconnected"
	TypeSearchCompleted  = "SearchCompleted"
	TypeTransferComplete = "TransferComplete"
)

// Event is one recorded occurrence.
type Event struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Store appends and lists events.
type Store struct {
	conn *sql.DB
}

// NewStore wraps an open events database.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Append records an event with an optional JSON payload.
func (s *Store) Append(ctx context.Context, eventType string, payload interface{}) error {
	var data sql.NullString
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "serializing event payload")
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO events (timestamp, type, data) VALUES (?, ?, ?)`,
		db.FormatTime(time.Now()), eventType, data)
	return errors.Wrap(err, "recording event")
}

// List returns the newest events, up to limit.
func (s *Store) List(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, timestamp, type, data FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "listing events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e     Event
			stamp string
			data  sql.NullString
		)
		if err := rows.Scan(&e.ID, &stamp, &e.Type, &data); err != nil {
			return nil, err
		}
		if e.Timestamp, err = db.ParseTime(stamp); err != nil {
			return nil, err
		}
		if data.Valid {
			e.Data = json.RawMessage(data.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes events older than the cutoff and returns the count.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM events WHERE timestamp < ?`, db.FormatTime(olderThan))
	if err != nil {
		return 0, errors.Wrap(err, "pruning events")
	}
	return res.RowsAffected()
}
