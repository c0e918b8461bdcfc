// Package sink materializes enriched records into an analytical store.
package sink

import (
	"fmt"

	"github.com/rawbytedev/typedstream/internal/config"
	"github.com/rawbytedev/typedstream/pkg/backfill"
)

// Store is a materializer that must be closed.
type Store interface {
	backfill.Materializer
	Close() error
}

// Open returns the store described by cfg.
func Open(cfg config.SinkConfig) (Store, error) {
	switch cfg.Kind {
	case "duckdb":
		return OpenDuckDB(cfg.DSN)
	case "parquet":
		return NewParquet(cfg.Dir)
	}
	return nil, fmt.Errorf("unsupported sink %q", cfg.Kind)
}

func textOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func bytesOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
