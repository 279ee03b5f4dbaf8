package transfers

import (
	"context"
	"database/sql"
	"time"

	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/pkg/errors"
)

// Store projects tracker snapshots into durable rows in the transfers
// database. Direction is stored as its textual name; State is stored as the
// integer bitflag with the textual description column maintained atomically
// on every write.
type Store struct {
	conn *sql.DB
}

// NewStore wraps an open transfers database.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Upsert inserts or updates the row for the transfer's id. The
// state_description mirror is derived from State inside the same statement,
// so the two can never diverge on disk.
func (s *Store) Upsert(ctx context.Context, t Transfer) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO transfers (id, direction, username, filename, size, start_offset,
			bytes_transferred, average_speed, state, state_description, requested_at,
			enqueued_at, started_at, ended_at, attempts, group_id, removed, exception)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			direction = excluded.direction,
			username = excluded.username,
			filename = excluded.filename,
			size = excluded.size,
			start_offset = excluded.start_offset,
			bytes_transferred = excluded.bytes_transferred,
			average_speed = excluded.average_speed,
			state = excluded.state,
			state_description = excluded.state_description,
			requested_at = excluded.requested_at,
			enqueued_at = excluded.enqueued_at,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			attempts = excluded.attempts,
			group_id = excluded.group_id,
			removed = excluded.removed,
			exception = excluded.exception`,
		t.ID, t.Direction.String(), t.Username, t.Filename, t.Size, t.StartOffset,
		t.BytesTransferred, t.AverageSpeed, int64(t.State), t.State.Description(),
		db.FormatTime(t.RequestedAt), db.FormatNullableTime(t.EnqueuedAt),
		db.FormatNullableTime(t.StartedAt), db.FormatNullableTime(t.EndedAt),
		t.Attempts, nullString(t.GroupID), boolToInt(t.Removed), nullString(t.Exception))
	return errors.Wrap(err, "persisting transfer "+t.ID)
}

// Find returns the transfer with the given id.
func (s *Store) Find(ctx context.Context, id string) (Transfer, error) {
	row := s.conn.QueryRowContext(ctx, selectColumns+` FROM transfers WHERE id = ?`, id)
	t, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return Transfer{}, errors.NewNotFoundError("transfer "+id+" not found", nil)
	}
	return t, errors.Wrap(err, "reading transfer "+id)
}

// List returns transfers filtered by direction, newest request first.
// Removed rows are excluded unless includeRemoved is set.
func (s *Store) List(ctx context.Context, direction Direction, includeRemoved bool) ([]Transfer, error) {
	query := selectColumns + ` FROM transfers WHERE direction = ?`
	if !includeRemoved {
		query += ` AND removed = 0`
	}
	query += ` ORDER BY requested_at DESC`

	rows, err := s.conn.QueryContext(ctx, query, direction.String())
	if err != nil {
		return nil, errors.Wrap(err, "listing transfers")
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FindByUserFile returns the newest transfer matching (username, filename)
// in the given direction.
func (s *Store) FindByUserFile(ctx context.Context, direction Direction, username, filename string) (Transfer, error) {
	row := s.conn.QueryRowContext(ctx, selectColumns+`
		FROM transfers WHERE username = ? AND filename = ? AND direction = ?
		ORDER BY requested_at DESC LIMIT 1`,
		username, filename, direction.String())
	t, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return Transfer{}, errors.NewNotFoundError(
			"no transfer of "+filename+" for "+username, nil)
	}
	return t, errors.Wrap(err, "reading transfer")
}

// MarkAllRemoved flags every terminal transfer in the direction as removed
// and returns how many rows changed.
func (s *Store) MarkAllRemoved(ctx context.Context, direction Direction) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE transfers SET removed = 1
		WHERE direction = ? AND removed = 0 AND (state & ?) != 0`,
		direction.String(), int64(terminalMask))
	if err != nil {
		return 0, errors.Wrap(err, "removing completed transfers")
	}
	return res.RowsAffected()
}

// Prune deletes removed rows whose transfer ended before the cutoff.
func (s *Store) Prune(ctx context.Context, endedBefore time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM transfers
		WHERE removed = 1 AND ended_at IS NOT NULL AND ended_at < ?`,
		db.FormatTime(endedBefore))
	if err != nil {
		return 0, errors.Wrap(err, "pruning transfers")
	}
	return res.RowsAffected()
}

const selectColumns = `SELECT id, direction, username, filename, size, start_offset,
	bytes_transferred, average_speed, state, state_description, requested_at,
	enqueued_at, started_at, ended_at, attempts, group_id, removed, exception`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(row rowScanner) (Transfer, error) {
	var (
		t                  Transfer
		direction          string
		state              int64
		requestedAt        string
		enq, started, ended sql.NullString
		groupID, exception sql.NullString
		removed            int
	)
	err := row.Scan(&t.ID, &direction, &t.Username, &t.Filename, &t.Size, &t.StartOffset,
		&t.BytesTransferred, &t.AverageSpeed, &state, &t.StateDescription, &requestedAt,
		&enq, &started, &ended, &t.Attempts, &groupID, &removed, &exception)
	if err != nil {
		return Transfer{}, err
	}

	if t.Direction, err = ParseDirection(direction); err != nil {
		return Transfer{}, err
	}
	t.State = State(state)
	if t.RequestedAt, err = db.ParseTime(requestedAt); err != nil {
		return Transfer{}, err
	}
	if t.EnqueuedAt, err = db.ParseNullableTime(enq); err != nil {
		return Transfer{}, err
	}
	if t.StartedAt, err = db.ParseNullableTime(started); err != nil {
		return Transfer{}, err
	}
	if t.EndedAt, err = db.ParseNullableTime(ended); err != nil {
		return Transfer{}, err
	}
	t.GroupID = groupID.String
	t.Exception = exception.String
	t.Removed = removed != 0
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
