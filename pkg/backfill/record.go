// Package backfill fills in missing message text from the typedstream payload
// stored next to it and hands the merged records to a destination.
package backfill

import (
	"errors"

	"github.com/rawbytedev/typedstream"
)

// Record is one upstream row. Text is nil when the column is NULL.
type Record struct {
	RowID   int64
	GUID    string
	Text    *string
	Payload []byte
	Seq     int64
}

// TextSource says where the final text of an Enriched record came from.
type TextSource string

const (
	SourcePlain   TextSource = "plain"
	SourcePayload TextSource = "payload"
	SourceNone    TextSource = "none"
)

// Enriched is a Record after the precedence rule was applied. Text is nil when
// neither column produced any.
type Enriched struct {
	RowID   int64
	GUID    string
	Text    *string
	Payload []byte
	Seq     int64
	Source  TextSource
}

// Diagnostic records a payload that could not be decoded.
type Diagnostic struct {
	RowID  int64  `json:"row_id"`
	GUID   string `json:"guid"`
	Offset int    `json:"offset"`
	Detail string `json:"detail"`
}

// Resolve applies the precedence rule to one record: non-empty plain text wins
// and the payload is not read; otherwise the first text found in the payload.
// A malformed payload yields no text and a Diagnostic.
func Resolve(rec Record, opts typedstream.Options) (Enriched, *Diagnostic) {
	out := Enriched{
		RowID:   rec.RowID,
		GUID:    rec.GUID,
		Payload: rec.Payload,
		Seq:     rec.Seq,
		Source:  SourceNone,
	}
	if rec.Text != nil && *rec.Text != "" {
		t := *rec.Text
		out.Text = &t
		out.Source = SourcePlain
		return out, nil
	}
	if len(rec.Payload) == 0 {
		return out, nil
	}
	s, ok, err := typedstream.FirstText(rec.Payload, opts)
	if err != nil {
		d := &Diagnostic{RowID: rec.RowID, GUID: rec.GUID, Offset: -1, Detail: err.Error()}
		var me *typedstream.MalformedError
		if errors.As(err, &me) {
			d.Offset, d.Detail = me.Offset, me.Detail
		}
		return out, d
	}
	if ok {
		out.Text = &s
		out.Source = SourcePayload
	}
	return out, nil
}
