package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/typedstream/pkg/backfill"
)

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(backfill.Stats{Total: 6, Plain: 3, Payload: 2, None: 1, Malformed: 1}, 1500*time.Millisecond, time.Unix(1700000000, 0))

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Records.WithLabelValues("plain")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Records.WithLabelValues("payload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeFailures))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.RunDuration))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastSuccess))
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.Observe(backfill.Stats{Plain: 1}, time.Second, time.Now())
	path := filepath.Join(t.TempDir(), "typedstream.prom")
	require.NoError(t, m.WriteFile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `typedstream_backfill_records_total{source="plain"} 1`)
	assert.Contains(t, string(b), "typedstream_backfill_run_duration_seconds 1")
}
