package main

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/typedstream/internal/streamtest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd, stop := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	stop()
	return out.String(), err
}

func writePayload(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "body.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDumpFirst(t *testing.T) {
	path := writePayload(t, streamtest.New().AttributedBody("hello").Bytes())
	out, err := execute(t, "dump", "--first", path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestDumpEvents(t *testing.T) {
	path := writePayload(t, streamtest.New().Group("i+").Int(42).Unshared([]byte("hi")).Bytes())
	out, err := execute(t, "dump", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Equal(t, []string{
		"# version 4 streamtyped system 1000",
		`16 group-start "i+"`,
		"20 integer 42",
		`21 bytes "hi"`,
		"24 group-end",
	}, lines)
}

func TestDumpMalformed(t *testing.T) {
	path := writePayload(t, streamtest.Malformed())
	out, err := execute(t, "dump", path)
	require.Error(t, err)
	assert.Contains(t, out, "malformed typedstream at offset 16")
}

func TestRunMissingSource(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("source:\n  dsn: "+filepath.Join(dir, "missing", "chat.db")+"\n"), 0o644))
	_, err := execute(t, "run", "--config", cfgPath, "--sink", "parquet", "--sink-dir", filepath.Join(dir, "out"))
	require.Error(t, err)
}

func TestRunAndVerify(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE message (guid TEXT, text TEXT, attributedBody BLOB, date INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO message (guid, text, attributedBody, date) VALUES ('a', 'hi', NULL, 1), ('b', NULL, ?, 2)`,
		streamtest.New().AttributedBody("hello").Bytes())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	outDir := filepath.Join(dir, "out")
	out, err := execute(t, "run", "--source-dsn", dbPath, "--sink", "parquet", "--sink-dir", outDir, "--verify", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "2 records (1 plain, 1 recovered, 0 without text, 0 malformed)")
	assert.Contains(t, out, "verified 2 rows in message_enriched")

	out, err = execute(t, "verify", "--sink", "parquet", "--sink-dir", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "message_enriched: 2 rows")
	assert.Contains(t, out, "2\tb\t2\tpayload\t\"hello\"")
}

func TestCPUProfileFlushedOnError(t *testing.T) {
	prof := filepath.Join(t.TempDir(), "cpu.prof")
	path := writePayload(t, streamtest.Malformed())
	_, err := execute(t, "--cpuprofile", prof, "dump", path)
	require.Error(t, err)
	st, err := os.Stat(prof)
	require.NoError(t, err)
	assert.NotZero(t, st.Size())
}
