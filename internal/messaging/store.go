// Package messaging persists private messages received from remote peers.
// The in-memory conversation trackers live with the API layer; this store
// only gives messages durability across restarts.
package messaging

import (
	"context"
	"database/sql"
	"time"

	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/pkg/errors"
)

// Message is one persisted private message.
type Message struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Username     string    `json:"username"`
	Message      string    `json:"message"`
	Acknowledged bool      `json:"acknowledged"`
}

// Store persists private messages.
type Store struct {
	conn *sql.DB
}

// NewStore wraps an open messaging database.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Append records an inbound message.
func (s *Store) Append(ctx context.Context, username, text string, at time.Time) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO messages (timestamp, username, message) VALUES (?, ?, ?)`,
		db.FormatTime(at), username, text)
	return errors.Wrap(err, "persisting message from "+username)
}

// ListByUser returns the user's messages, oldest first.
func (s *Store) ListByUser(ctx context.Context, username string) ([]Message, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, timestamp, username, message, acknowledged
		FROM messages WHERE username = ? ORDER BY id`, username)
	if err != nil {
		return nil, errors.Wrap(err, "listing messages")
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m     Message
			stamp string
			acked int
		)
		if err := rows.Scan(&m.ID, &stamp, &m.Username, &m.Message, &acked); err != nil {
			return nil, err
		}
		if m.Timestamp, err = db.ParseTime(stamp); err != nil {
			return nil, err
		}
		m.Acknowledged = acked != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// Acknowledge marks every message from the user as read.
func (s *Store) Acknowledge(ctx context.Context, username string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE messages SET acknowledged = 1 WHERE username = ? AND acknowledged = 0`, username)
	return errors.Wrap(err, "acknowledging messages from "+username)
}
