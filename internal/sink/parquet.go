package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/rawbytedev/typedstream/internal/config"
	"github.com/rawbytedev/typedstream/pkg/backfill"
)

type parquetRow struct {
	RowID   int64   `parquet:"name=row_id, type=INT64"`
	GUID    string  `parquet:"name=guid, type=BYTE_ARRAY, convertedtype=UTF8"`
	Text    *string `parquet:"name=text, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Payload *string `parquet:"name=attributed_body, type=BYTE_ARRAY, repetitiontype=OPTIONAL"`
	Seq     int64   `parquet:"name=seq, type=INT64"`
	Source  string  `parquet:"name=text_source, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Parquet writes one <table>.parquet file per table under dir. A replace
// builds the whole file, then renames it over the old one.
type Parquet struct {
	dir string
}

func NewParquet(dir string) (*Parquet, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Parquet{dir: dir}, nil
}

func (p *Parquet) path(table string) string {
	return filepath.Join(p.dir, table+".parquet")
}

func (p *Parquet) Replace(ctx context.Context, table string, recs []backfill.Enriched) error {
	if err := config.ValidIdent(table); err != nil {
		return err
	}
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewParquetWriter(pfw, new(parquetRow), 4)
	if err != nil {
		return fmt.Errorf("parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			_ = pw.WriteStop()
			return err
		}
		row := parquetRow{RowID: r.RowID, GUID: r.GUID, Text: r.Text, Seq: r.Seq, Source: string(r.Source)}
		if len(r.Payload) > 0 {
			s := string(r.Payload)
			row.Payload = &s
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("write %s: %w", table, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("write %s: %w", table, err)
	}
	_ = pfw.Close()
	if err := ctx.Err(); err != nil {
		return err
	}
	return renameio.WriteFile(p.path(table), buf.Bytes(), 0o644)
}

func (p *Parquet) ReadBack(ctx context.Context, table string) ([]backfill.Enriched, error) {
	if err := config.ValidIdent(table); err != nil {
		return nil, err
	}
	fr, err := local.NewLocalFileReader(p.path(table))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", table, err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 4)
	if err != nil {
		return nil, fmt.Errorf("parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	if n == 0 {
		return nil, nil
	}
	rows := make([]parquetRow, n)
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	out := make([]backfill.Enriched, n)
	for i, r := range rows {
		out[i] = backfill.Enriched{RowID: r.RowID, GUID: r.GUID, Text: r.Text, Seq: r.Seq, Source: backfill.TextSource(r.Source)}
		if r.Payload != nil {
			out[i].Payload = []byte(*r.Payload)
		}
	}
	return out, nil
}

func (p *Parquet) Close() error { return nil }
