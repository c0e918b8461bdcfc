package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"github.com/rawbytedev/typedstream/internal/config"
	"github.com/rawbytedev/typedstream/pkg/backfill"
)

const insertBatch = 256

// DuckDB replaces a table inside one transaction, so readers see either the
// previous table or the complete new one.
type DuckDB struct {
	db *sql.DB
}

// OpenDuckDB opens the database at path; an empty path is in-memory.
func OpenDuckDB(path string) (*DuckDB, error) {
	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &DuckDB{db: sql.OpenDB(connector)}, nil
}

func (d *DuckDB) Replace(ctx context.Context, table string, recs []backfill.Enriched) error {
	if err := config.ValidIdent(table); err != nil {
		return err
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ddl := fmt.Sprintf(`CREATE OR REPLACE TABLE %q (
  row_id BIGINT NOT NULL,
  guid VARCHAR,
  text VARCHAR,
  attributed_body BLOB,
  seq BIGINT NOT NULL,
  text_source VARCHAR NOT NULL
)`, table)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	for start := 0; start < len(recs); start += insertBatch {
		end := min(start+insertBatch, len(recs))
		if err := insertRows(ctx, tx, table, recs[start:end]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertRows(ctx context.Context, tx *sql.Tx, table string, recs []backfill.Enriched) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %q VALUES ", table)
	args := make([]any, 0, len(recs)*6)
	for i, r := range recs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, r.RowID, r.GUID, textOrNil(r.Text), bytesOrNil(r.Payload), r.Seq, string(r.Source))
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (d *DuckDB) ReadBack(ctx context.Context, table string) ([]backfill.Enriched, error) {
	if err := config.ValidIdent(table); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT row_id, guid, text, attributed_body, seq, text_source FROM %q ORDER BY seq, row_id`, table)
	rows, err := d.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()
	var out []backfill.Enriched
	for rows.Next() {
		var (
			e      backfill.Enriched
			guid   sql.NullString
			text   sql.NullString
			source string
		)
		if err := rows.Scan(&e.RowID, &guid, &text, &e.Payload, &e.Seq, &source); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		e.GUID = guid.String
		if text.Valid {
			e.Text = &text.String
		}
		e.Source = backfill.TextSource(source)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *DuckDB) Close() error { return d.db.Close() }
