package backfill

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/rawbytedev/typedstream"
)

// Source yields the records of one run, ordered or not.
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}

// Materializer replaces a named relation with a record set in one step.
type Materializer interface {
	Replace(ctx context.Context, table string, recs []Enriched) error
	ReadBack(ctx context.Context, table string) ([]Enriched, error)
}

// Stats counts records by where their text came from.
type Stats struct {
	Total     int
	Plain     int
	Payload   int
	None      int
	Malformed int
}

type Result struct {
	Records     []Enriched
	Diagnostics []Diagnostic
	Stats       Stats
}

type Pipeline struct {
	workers int
	log     *slog.Logger
	decoder typedstream.Options
}

type Option func(*Pipeline)

// WithWorkers bounds the number of records decoded at once.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func WithDecoderOptions(o typedstream.Options) Option {
	return func(p *Pipeline) { p.decoder = o }
}

func New(opts ...Option) *Pipeline {
	p := &Pipeline{workers: runtime.GOMAXPROCS(0), log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Enrich resolves every record. The result is ordered by Seq, then RowID,
// whatever order the input came in. Only ctx cancellation fails it.
func (p *Pipeline) Enrich(ctx context.Context, recs []Record) (*Result, error) {
	order := make([]int, len(recs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(recs[a].Seq, recs[b].Seq); c != 0 {
			return c
		}
		return cmp.Compare(recs[a].RowID, recs[b].RowID)
	})

	out := make([]Enriched, len(recs))
	diags := make([]*Diagnostic, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for j, i := range order {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[j], diags[j] = Resolve(recs[i], p.decoder)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enrich: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("enrich: %w", err)
	}

	res := &Result{Records: out}
	for j, e := range out {
		switch e.Source {
		case SourcePlain:
			res.Stats.Plain++
		case SourcePayload:
			res.Stats.Payload++
		default:
			res.Stats.None++
		}
		if d := diags[j]; d != nil {
			res.Stats.Malformed++
			res.Diagnostics = append(res.Diagnostics, *d)
			p.log.Warn("payload not decoded",
				slog.Int64("row_id", d.RowID),
				slog.String("guid", d.GUID),
				slog.Int("offset", d.Offset),
				slog.String("detail", d.Detail))
		}
	}
	res.Stats.Total = len(out)
	p.log.Debug("records enriched",
		slog.Int("total", res.Stats.Total),
		slog.Int("plain", res.Stats.Plain),
		slog.Int("payload", res.Stats.Payload),
		slog.Int("none", res.Stats.None))
	return res, nil
}

// Run fetches, enriches and replaces table with the enriched set. Nothing is
// written unless every earlier step succeeded.
func (p *Pipeline) Run(ctx context.Context, src Source, dst Materializer, table string) (*Result, error) {
	recs, err := src.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	res, err := p.Enrich(ctx, recs)
	if err != nil {
		return nil, err
	}
	if err := dst.Replace(ctx, table, res.Records); err != nil {
		return nil, fmt.Errorf("replace %s: %w", table, err)
	}
	return res, nil
}
