// Package runner executes one backfill run end to end.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/rawbytedev/typedstream/internal/config"
	"github.com/rawbytedev/typedstream/internal/metrics"
	"github.com/rawbytedev/typedstream/internal/report"
	"github.com/rawbytedev/typedstream/internal/sink"
	"github.com/rawbytedev/typedstream/internal/source"
	"github.com/rawbytedev/typedstream/pkg/backfill"
)

type recordSource interface {
	backfill.Source
	Close() error
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Stats    backfill.Stats
	Took     time.Duration
	Verified int // rows read back, -1 when not verified
	// Warnings are failures after the destination was replaced.
	Warnings []error
}

type Runner struct {
	cfg config.Config
	log *slog.Logger

	openSource func(config.SourceConfig) (recordSource, error)
	openSink   func(config.SinkConfig) (sink.Store, error)
	now        func() time.Time
}

func New(cfg config.Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		cfg: cfg,
		log: log,
		openSource: func(c config.SourceConfig) (recordSource, error) {
			return source.Open(c.Driver, c.DSN, c.Query)
		},
		openSink: sink.Open,
		now:      time.Now,
	}
}

// Run reads the source, enriches every record and replaces the destination
// table. Every step that can fail the run happens before the replace; the
// report is staged first and published after it. Steps after the replace
// (publishing the report, verify, metrics) are recorded in
// Summary.Warnings and do not fail the run.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	decOpts, err := r.cfg.DecoderOptions()
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log := r.log.With(slog.String("run_id", runID))
	start := r.now()

	src, err := r.openSource(r.cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()
	dst, err := r.openSink(r.cfg.Sink)
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	defer dst.Close()

	p := backfill.New(
		backfill.WithWorkers(r.cfg.Workers),
		backfill.WithLogger(log),
		backfill.WithDecoderOptions(decOpts),
	)
	log.Info("backfill started", slog.String("driver", r.cfg.Source.Driver), slog.String("sink", r.cfg.Sink.Kind), slog.String("table", r.cfg.Sink.Table))
	recs, err := src.Records(ctx)
	if err != nil {
		log.Error("backfill failed", slog.Any("err", err))
		return nil, fmt.Errorf("read source: %w", err)
	}
	res, err := p.Enrich(ctx, recs)
	if err != nil {
		log.Error("backfill failed", slog.Any("err", err))
		return nil, err
	}

	var staged *renameio.PendingFile
	if r.cfg.Report != "" {
		if staged, err = report.Stage(r.cfg.Report, runID, res.Diagnostics); err != nil {
			return nil, err
		}
		defer staged.Cleanup()
	}
	if r.cfg.Metrics != "" {
		if err := dirExists(r.cfg.Metrics); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
	}

	if err := dst.Replace(ctx, r.cfg.Sink.Table, res.Records); err != nil {
		log.Error("backfill failed", slog.Any("err", err))
		return nil, fmt.Errorf("replace %s: %w", r.cfg.Sink.Table, err)
	}
	sum := &Summary{RunID: runID, Stats: res.Stats, Took: r.now().Sub(start), Verified: -1}
	warn := func(step string, err error) {
		log.Warn("post-commit step failed", slog.String("step", step), slog.Any("err", err))
		sum.Warnings = append(sum.Warnings, fmt.Errorf("%s: %w", step, err))
	}

	if staged != nil {
		if err := staged.CloseAtomicallyReplace(); err != nil {
			warn("report", err)
		}
	}
	if r.cfg.Verify {
		got, err := dst.ReadBack(ctx, r.cfg.Sink.Table)
		switch {
		case err != nil:
			warn("verify", err)
		case len(got) != len(res.Records):
			warn("verify", fmt.Errorf("%s holds %d rows, wrote %d", r.cfg.Sink.Table, len(got), len(res.Records)))
		default:
			sum.Verified = len(got)
		}
	}
	if r.cfg.Metrics != "" {
		m := metrics.New()
		m.Observe(res.Stats, sum.Took, r.now())
		if err := m.WriteFile(r.cfg.Metrics); err != nil {
			warn("metrics", err)
		}
	}
	log.Info("backfill finished",
		slog.Int("total", res.Stats.Total),
		slog.Int("plain", res.Stats.Plain),
		slog.Int("payload", res.Stats.Payload),
		slog.Int("none", res.Stats.None),
		slog.Int("malformed", res.Stats.Malformed),
		slog.Int("warnings", len(sum.Warnings)),
		slog.Duration("took", sum.Took))
	return sum, nil
}

func dirExists(path string) error {
	dir := filepath.Dir(path)
	st, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// ReadBack returns the current contents of the destination table.
func (r *Runner) ReadBack(ctx context.Context) ([]backfill.Enriched, error) {
	if err := config.ValidIdent(r.cfg.Sink.Table); err != nil {
		return nil, err
	}
	dst, err := r.openSink(r.cfg.Sink)
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	defer dst.Close()
	return dst.ReadBack(ctx, r.cfg.Sink.Table)
}
