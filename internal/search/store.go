package search

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/auriora/wirefly/internal/db"
	"github.com/auriora/wirefly/internal/peer"
	"github.com/auriora/wirefly/pkg/errors"
)

// Store persists search records in the search database.
type Store struct {
	conn *sql.DB
}

// NewStore wraps an open search database.
func NewStore(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Upsert writes the search row. The responses blob is only written when the
// record carries responses, so streaming counter updates stay cheap.
func (s *Store) Upsert(ctx context.Context, record Search) error {
	var blob sql.NullString
	if record.Responses != nil {
		data, err := json.Marshal(record.Responses)
		if err != nil {
			return errors.Wrap(err, "serializing search responses")
		}
		blob = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO searches (id, search_text, token, state, started_at, ended_at,
			response_count, file_count, locked_file_count, responses)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			search_text = excluded.search_text,
			token = excluded.token,
			state = excluded.state,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			response_count = excluded.response_count,
			file_count = excluded.file_count,
			locked_file_count = excluded.locked_file_count,
			responses = CASE WHEN excluded.responses IS NULL
				THEN searches.responses ELSE excluded.responses END`,
		record.ID.String(), record.SearchText, record.Token, int64(record.State),
		db.FormatTime(record.StartedAt), db.FormatNullableTime(record.EndedAt),
		record.ResponseCount, record.FileCount, record.LockedFileCount, blob)
	return errors.Wrap(err, "persisting search "+record.ID.String())
}

// Find returns the search with the given id, optionally including the
// responses blob.
func (s *Store) Find(ctx context.Context, id uuid.UUID, includeResponses bool) (Search, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, search_text, token, state, started_at, ended_at,
			response_count, file_count, locked_file_count, responses
		FROM searches WHERE id = ?`, id.String())

	record, err := scanSearch(row, includeResponses)
	if err == sql.ErrNoRows {
		return Search{}, errors.NewNotFoundError("search "+id.String()+" not found", nil)
	}
	return record, errors.Wrap(err, "reading search")
}

// List returns every search, newest first, responses elided.
func (s *Store) List(ctx context.Context) ([]Search, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, search_text, token, state, started_at, ended_at,
			response_count, file_count, locked_file_count, NULL
		FROM searches ORDER BY started_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "listing searches")
	}
	defer rows.Close()

	var out []Search
	for rows.Next() {
		record, err := scanSearch(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Delete removes the search row.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM searches WHERE id = ?`, id.String())
	if err != nil {
		return errors.Wrap(err, "deleting search")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("search "+id.String()+" not found", nil)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSearch(row rowScanner, includeResponses bool) (Search, error) {
	var (
		record    Search
		id        string
		state     int64
		startedAt string
		endedAt   sql.NullString
		blob      sql.NullString
	)
	err := row.Scan(&id, &record.SearchText, &record.Token, &state, &startedAt,
		&endedAt, &record.ResponseCount, &record.FileCount, &record.LockedFileCount, &blob)
	if err != nil {
		return Search{}, err
	}

	if record.ID, err = uuid.Parse(id); err != nil {
		return Search{}, errors.Wrap(err, "parsing search id")
	}
	record.State = State(state)
	record.StateText = record.State.String()
	if record.StartedAt, err = db.ParseTime(startedAt); err != nil {
		return Search{}, err
	}
	if record.EndedAt, err = db.ParseNullableTime(endedAt); err != nil {
		return Search{}, err
	}
	if includeResponses && blob.Valid {
		var responses []peer.Response
		if err := json.Unmarshal([]byte(blob.String), &responses); err != nil {
			return Search{}, errors.Wrap(err, "deserializing search responses")
		}
		record.Responses = responses
	}
	return record, nil
}
