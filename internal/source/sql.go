// Package source reads message rows from a relational store.
package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rawbytedev/typedstream/pkg/backfill"
)

// SQLSource runs one query whose columns are, in order: row id, guid, plain
// text, typedstream payload, sequence key.
type SQLSource struct {
	db    *sql.DB
	query string
	owned bool
}

// Open connects with driver "sqlite" or "postgres".
func Open(driver, dsn, query string) (*SQLSource, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported source driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	s := NewSQLSource(db, query)
	s.owned = true
	return s, nil
}

// NewSQLSource reuses an existing *sql.DB. Close leaves db open.
func NewSQLSource(db *sql.DB, query string) *SQLSource {
	return &SQLSource{db: db, query: query}
}

func (s *SQLSource) Records(ctx context.Context) ([]backfill.Record, error) {
	if s.db == nil {
		return nil, errors.New("db is required")
	}
	rows, err := s.db.QueryContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []backfill.Record
	for rows.Next() {
		var (
			rec  backfill.Record
			guid sql.NullString
			text sql.NullString
			seq  sql.NullInt64
		)
		if err := rows.Scan(&rec.RowID, &guid, &text, &rec.Payload, &seq); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec.GUID = guid.String
		if text.Valid {
			rec.Text = &text.String
		}
		rec.Seq = seq.Int64
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return out, nil
}

func (s *SQLSource) Close() error {
	if s.owned && s.db != nil {
		return s.db.Close()
	}
	return nil
}
