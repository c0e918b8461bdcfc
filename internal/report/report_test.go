package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/typedstream/pkg/backfill"
)

var diags = []backfill.Diagnostic{
	{RowID: 4, GUID: "a", Offset: 16, Detail: "unknown type encoding 'Z' in \"Z\""},
	{RowID: 9, GUID: "b", Offset: 40, Detail: "truncated byte string: need 10 bytes, have 2"},
}

func TestWriteRead(t *testing.T) {
	for _, name := range []string{"diag.jsonl", "diag.jsonl.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Write(path, "run-1", diags))
			got, err := Read(path)
			require.NoError(t, err)
			require.Len(t, got, 2)
			for i, e := range got {
				require.Equal(t, "run-1", e.RunID)
				require.Equal(t, diags[i], e.Diagnostic)
			}
		})
	}
}

func TestCompressedOnDisk(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "d.jsonl")
	zst := filepath.Join(dir, "d.jsonl.zst")
	require.NoError(t, Write(plain, "r", diags))
	require.NoError(t, Write(zst, "r", diags))

	raw, err := os.ReadFile(plain)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"row_id":4`)
	require.Equal(t, 2, bytes.Count(raw, []byte("\n")))

	packed, err := os.ReadFile(zst)
	require.NoError(t, err)
	// zstd frame magic
	require.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, packed[:4])
}

func TestEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.jsonl")
	require.NoError(t, Write(path, "r", nil))
	got, err := Read(path)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestStage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.jsonl.zst")
	require.NoError(t, Write(path, "old", diags[:1]))

	pf, err := Stage(path, "new", diags)
	require.NoError(t, err)
	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "old", got[0].RunID)

	require.NoError(t, pf.CloseAtomicallyReplace())
	require.NoError(t, pf.Cleanup())
	got, err = Read(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "new", got[0].RunID)
}

func TestStageDiscard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "diag.jsonl")
	pf, err := Stage(path, "r", diags)
	require.NoError(t, err)
	require.NoError(t, pf.Cleanup())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStageMissingDir(t *testing.T) {
	_, err := Stage(filepath.Join(t.TempDir(), "missing", "diag.jsonl"), "r", diags)
	require.Error(t, err)
}
