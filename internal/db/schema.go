package db

import (
	"database/sql"

	"github.com/auriora/wirefly/pkg/errors"
)

// Column is one column's metadata as reported by the engine.
type Column struct {
	CID     int
	Name    string
	Type    string
	NotNull bool
	Default sql.NullString
	PK      int
}

// Index is one index's metadata as reported by the engine.
type Index struct {
	Seq    int
	Name   string
	Unique bool
}

// TableInfo returns the column metadata for a table. An inspection failure
// means the database file is corrupt or held by another process.
func TableInfo(conn *sql.DB, table string) ([]Column, error) {
	rows, err := conn.Query(`PRAGMA table_info(` + quoteIdent(table) + `)`)
	if err != nil {
		return nil, errors.Wrap(err, "database corrupt or in use")
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var c Column
		var notNull int
		if err := rows.Scan(&c.CID, &c.Name, &c.Type, &notNull, &c.Default, &c.PK); err != nil {
			return nil, errors.Wrap(err, "database corrupt or in use")
		}
		c.NotNull = notNull != 0
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "database corrupt or in use")
	}
	return columns, nil
}

// Indexes returns the index metadata for a table.
func Indexes(conn *sql.DB, table string) ([]Index, error) {
	rows, err := conn.Query(`PRAGMA index_list(` + quoteIdent(table) + `)`)
	if err != nil {
		return nil, errors.Wrap(err, "database corrupt or in use")
	}
	defer rows.Close()

	var indexes []Index
	for rows.Next() {
		var idx Index
		var unique int
		var origin, partial interface{}
		if err := rows.Scan(&idx.Seq, &idx.Name, &unique, &origin, &partial); err != nil {
			return nil, errors.Wrap(err, "database corrupt or in use")
		}
		idx.Unique = unique != 0
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "database corrupt or in use")
	}
	return indexes, nil
}

// HasTable reports whether the table exists.
func HasTable(conn *sql.DB, table string) (bool, error) {
	var name string
	err := conn.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "database corrupt or in use")
	}
	return true, nil
}

// HasColumn reports whether the table has a column of the given name and,
// when declaredType is non-empty, of that declared type.
func HasColumn(conn *sql.DB, table, column, declaredType string) (bool, error) {
	columns, err := TableInfo(conn, table)
	if err != nil {
		return false, err
	}
	for _, c := range columns {
		if c.Name == column {
			return declaredType == "" || c.Type == declaredType, nil
		}
	}
	return false, nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
