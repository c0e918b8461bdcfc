package backfill

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/typedstream"
	"github.com/rawbytedev/typedstream/internal/streamtest"
)

func ptr(s string) *string { return &s }

type memStore struct {
	mu       sync.Mutex
	tables   map[string][]Enriched
	replaces int
	fail     error
}

func newMemStore() *memStore { return &memStore{tables: map[string][]Enriched{}} }

func (m *memStore) Replace(ctx context.Context, table string, recs []Enriched) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.replaces++
	m.tables[table] = append([]Enriched(nil), recs...)
	return nil
}

func (m *memStore) ReadBack(ctx context.Context, table string) ([]Enriched, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs, ok := m.tables[table]
	if !ok {
		return nil, errors.New("no such table")
	}
	return recs, nil
}

type sliceSource struct {
	recs []Record
	err  error
}

func (s sliceSource) Records(ctx context.Context) ([]Record, error) { return s.recs, s.err }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestResolvePrecedence(t *testing.T) {
	payload := streamtest.New().AttributedBody("from payload").Bytes()
	got, d := Resolve(Record{RowID: 1, Text: ptr("plain"), Payload: payload}, typedstream.Options{})
	require.Nil(t, d)
	require.Equal(t, SourcePlain, got.Source)
	require.Equal(t, "plain", *got.Text)

	// a broken payload is never looked at when plain text exists
	got, d = Resolve(Record{RowID: 2, Text: ptr("plain"), Payload: streamtest.Malformed()}, typedstream.Options{})
	require.Nil(t, d)
	require.Equal(t, "plain", *got.Text)
}

func TestResolveBackfill(t *testing.T) {
	payload := streamtest.New().AttributedBody("hello").Bytes()
	for _, text := range []*string{nil, ptr("")} {
		got, d := Resolve(Record{RowID: 7, GUID: "g-7", Text: text, Payload: payload, Seq: 3}, typedstream.Options{})
		require.Nil(t, d)
		require.Equal(t, SourcePayload, got.Source)
		require.NotNil(t, got.Text)
		require.Equal(t, "hello", *got.Text)
		require.Equal(t, int64(7), got.RowID)
		require.Equal(t, "g-7", got.GUID)
		require.Equal(t, int64(3), got.Seq)
		require.Equal(t, payload, got.Payload)
	}
}

func TestResolveNothing(t *testing.T) {
	got, d := Resolve(Record{RowID: 1}, typedstream.Options{})
	require.Nil(t, d)
	require.Nil(t, got.Text)
	require.Equal(t, SourceNone, got.Source)

	// a stream holding only integers has no text
	payload := streamtest.New().Group("i").Int(5).Bytes()
	got, d = Resolve(Record{RowID: 2, Payload: payload}, typedstream.Options{})
	require.Nil(t, d)
	require.Nil(t, got.Text)
	require.Equal(t, SourceNone, got.Source)
}

func TestResolveMalformed(t *testing.T) {
	got, d := Resolve(Record{RowID: 9, GUID: "bad", Payload: streamtest.Malformed()}, typedstream.Options{})
	require.NotNil(t, d)
	require.Nil(t, got.Text)
	require.Equal(t, SourceNone, got.Source)
	assert.Equal(t, int64(9), d.RowID)
	assert.Equal(t, "bad", d.GUID)
	assert.Equal(t, len(streamtest.New().Bytes()), d.Offset)
	assert.Contains(t, d.Detail, "unknown type encoding")
}

func TestEnrichDegradesAndContinues(t *testing.T) {
	recs := []Record{
		{RowID: 1, Seq: 1, Text: ptr("a")},
		{RowID: 2, Seq: 2, Payload: streamtest.Malformed()},
		{RowID: 3, Seq: 3, Payload: streamtest.New().NSString("c").Bytes()},
	}
	res, err := New(WithLogger(quiet())).Enrich(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, int64(2), res.Diagnostics[0].RowID)
	assert.Nil(t, res.Records[1].Text)
	assert.Equal(t, "c", *res.Records[2].Text)
	assert.Equal(t, Stats{Total: 3, Plain: 1, Payload: 1, None: 1, Malformed: 1}, res.Stats)
}

func TestEnrichOrdering(t *testing.T) {
	var recs []Record
	for i := 0; i < 200; i++ {
		r := Record{RowID: int64(i), Seq: int64(i / 3)}
		if i%2 == 0 {
			r.Payload = streamtest.New().AttributedBody("p").Bytes()
		} else {
			r.Text = ptr("t")
		}
		recs = append(recs, r)
	}
	rng := rand.New(rand.NewSource(1))
	rng.Shuffle(len(recs), func(i, j int) { recs[i], recs[j] = recs[j], recs[i] })

	res, err := New(WithWorkers(8), WithLogger(quiet())).Enrich(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, res.Records, 200)
	for i, e := range res.Records {
		require.Equal(t, int64(i), e.RowID)
		require.Equal(t, int64(i/3), e.Seq)
	}
}

func TestEnrichCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(WithLogger(quiet())).Enrich(ctx, []Record{{RowID: 1}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunIdempotent(t *testing.T) {
	src := sliceSource{recs: []Record{
		{RowID: 2, GUID: "b", Seq: 20, Payload: streamtest.New().AttributedBody("hello").Bytes()},
		{RowID: 1, GUID: "a", Seq: 10, Text: ptr("hi")},
		{RowID: 3, GUID: "c", Seq: 30, Payload: streamtest.Malformed()},
	}}
	store := newMemStore()
	p := New(WithLogger(quiet()))

	_, err := p.Run(context.Background(), src, store, "message_enriched")
	require.NoError(t, err)
	first, err := store.ReadBack(context.Background(), "message_enriched")
	require.NoError(t, err)

	_, err = p.Run(context.Background(), src, store, "message_enriched")
	require.NoError(t, err)
	second, err := store.ReadBack(context.Background(), "message_enriched")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 2, store.replaces)
	require.Len(t, second, 3)
	require.Equal(t, "hi", *second[0].Text)
	require.Equal(t, "hello", *second[1].Text)
	require.Nil(t, second[2].Text)
}

func TestRunFailuresLeaveDestination(t *testing.T) {
	store := newMemStore()
	p := New(WithLogger(quiet()))

	_, err := p.Run(context.Background(), sliceSource{err: errors.New("db gone")}, store, "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read source")
	assert.Equal(t, 0, store.replaces)

	store.fail = errors.New("disk full")
	_, err = p.Run(context.Background(), sliceSource{recs: []Record{{RowID: 1}}}, store, "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	_, err = store.ReadBack(context.Background(), "t")
	require.Error(t, err)
}

func TestResolveSkipsCharArrays(t *testing.T) {
	payload := streamtest.New().
		Group("[4c]").Raw(0xde, 0xad, 0xbe, 0xef).
		NSString("hello").
		Bytes()
	got, d := Resolve(Record{RowID: 1, Payload: payload}, typedstream.Options{})
	require.Nil(t, d)
	require.Equal(t, SourcePayload, got.Source)
	require.Equal(t, "hello", *got.Text)
}
