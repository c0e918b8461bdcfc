// Package report writes the per-run diagnostics file: one JSON object per
// line, zstd compressed when the path ends in .zst.
package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/rawbytedev/typedstream/pkg/backfill"
)

type Entry struct {
	RunID string `json:"run_id"`
	backfill.Diagnostic
}

func compressed(path string) bool { return strings.HasSuffix(path, ".zst") }

// Encode renders the diagnostics of one run in the format path calls for.
func Encode(path, runID string, diags []backfill.Diagnostic) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range diags {
		if err := enc.Encode(Entry{RunID: runID, Diagnostic: d}); err != nil {
			return nil, err
		}
	}
	data := buf.Bytes()
	if compressed(path) {
		zw, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return nil, err
		}
		data = zw.EncodeAll(data, nil)
		zw.Close()
	}
	return data, nil
}

// Write replaces path with the diagnostics of one run. An empty set still
// produces a file.
func Write(path, runID string, diags []backfill.Diagnostic) error {
	data, err := Encode(path, runID, diags)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Stage writes the report to a temp file next to path and leaves path alone.
// CloseAtomicallyReplace publishes it; Cleanup discards it.
func Stage(path, runID string, diags []backfill.Diagnostic) (*renameio.PendingFile, error) {
	data, err := Encode(path, runID, diags)
	if err != nil {
		return nil, err
	}
	pf, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return nil, fmt.Errorf("stage report: %w", err)
	}
	if _, err := pf.Write(data); err != nil {
		pf.Cleanup()
		return nil, fmt.Errorf("stage report: %w", err)
	}
	return pf, nil
}

// Read loads a file produced by Write.
func Read(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if compressed(path) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		if data, err = dec.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("decompress report: %w", err)
		}
	}
	var out []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("report line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
