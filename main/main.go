package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rawbytedev/typedstream"
	"github.com/rawbytedev/typedstream/internal/config"
	"github.com/rawbytedev/typedstream/internal/runner"
)

func main() {
	cmd, stopProfile := newRootCmd()
	err := cmd.Execute()
	stopProfile()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd returns the command tree and a func that flushes a CPU profile
// started by --cpuprofile. Call it after Execute, whatever Execute returned.
func newRootCmd() (*cobra.Command, func()) {
	var cpuProfile string
	var stopProfile func()

	rootCmd := &cobra.Command{
		Use:           "typedstream",
		Short:         "Recover message text from typedstream payloads",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cpuProfile == "" {
				return nil
			}
			f, err := os.Create(cpuProfile)
			if err != nil {
				return err
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				f.Close()
				return err
			}
			stopProfile = func() {
				pprof.StopCPUProfile()
				f.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&cpuProfile, "cpuprofile", "", "write a CPU profile to this file")
	rootCmd.PersistentFlags().String("config", "", "config file (.yaml, .yml or .json)")

	rootCmd.AddCommand(newRunCmd(), newDumpCmd(), newVerifyCmd())
	return rootCmd, func() {
		if stopProfile != nil {
			stopProfile()
			stopProfile = nil
		}
	}
}

// loadConfig layers file, environment and flags, in that order.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	config.ApplyEnv(&cfg)
	f := cmd.Flags()
	if f.Changed("source-driver") {
		cfg.Source.Driver, _ = f.GetString("source-driver")
	}
	if f.Changed("source-dsn") {
		cfg.Source.DSN, _ = f.GetString("source-dsn")
	}
	if f.Changed("sink") {
		cfg.Sink.Kind, _ = f.GetString("sink")
	}
	if f.Changed("sink-dsn") {
		cfg.Sink.DSN, _ = f.GetString("sink-dsn")
	}
	if f.Changed("sink-dir") {
		cfg.Sink.Dir, _ = f.GetString("sink-dir")
	}
	if f.Changed("table") {
		cfg.Sink.Table, _ = f.GetString("table")
	}
	if f.Changed("workers") {
		cfg.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("report") {
		cfg.Report, _ = f.GetString("report")
	}
	if f.Changed("metrics") {
		cfg.Metrics, _ = f.GetString("metrics")
	}
	if f.Changed("verify") {
		cfg.Verify, _ = f.GetBool("verify")
	}
	if f.Changed("log-level") {
		cfg.Log.Level, _ = f.GetString("log-level")
	}
	return cfg, nil
}

func storeFlags(cmd *cobra.Command) {
	cmd.Flags().String("sink", "", "destination kind: duckdb or parquet")
	cmd.Flags().String("sink-dsn", "", "duckdb database path")
	cmd.Flags().String("sink-dir", "", "parquet output directory")
	cmd.Flags().String("table", "", "destination table name")
	cmd.Flags().String("log-level", "", "debug, info, warn or error")
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backfill missing text and replace the destination table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := cfg.Log.NewLogger(cmd.ErrOrStderr())
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sum, err := runner.New(cfg, log).Run(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %d records (%d plain, %d recovered, %d without text, %d malformed) in %s\n",
				sum.RunID, sum.Stats.Total, sum.Stats.Plain, sum.Stats.Payload, sum.Stats.None, sum.Stats.Malformed, sum.Took)
			if sum.Verified >= 0 {
				fmt.Fprintf(out, "verified %d rows in %s\n", sum.Verified, cfg.Sink.Table)
			}
			for _, w := range sum.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", w)
			}
			return nil
		},
	}
	cmd.Flags().String("source-driver", "", "source driver: sqlite or postgres")
	cmd.Flags().String("source-dsn", "", "source data source name")
	cmd.Flags().Int("workers", 0, "parallel decoders (0 = GOMAXPROCS)")
	cmd.Flags().String("report", "", "diagnostics file (.zst to compress)")
	cmd.Flags().String("metrics", "", "prometheus textfile")
	cmd.Flags().Bool("verify", false, "read the table back after writing")
	storeFlags(cmd)
	return cmd
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print the events of a typedstream file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if u, _ := cmd.Flags().GetString("unknown"); u != "" {
				cfg.Decoder.Unknown = u
			}
			opts, err := cfg.DecoderOptions()
			if err != nil {
				return err
			}
			first, _ := cmd.Flags().GetBool("first")
			return dump(cmd.OutOrStdout(), buf, opts, first)
		},
	}
	cmd.Flags().Bool("first", false, "print only the first text value")
	cmd.Flags().String("unknown", "", "rule for unknown classes: skip, walk or text")
	return cmd
}

func dump(w io.Writer, buf []byte, opts typedstream.Options, first bool) error {
	if first {
		s, ok, err := typedstream.FirstText(buf, opts)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no text found")
		}
		_, err = fmt.Fprintln(w, s)
		return err
	}
	r := typedstream.NewReader(buf, opts)
	if h, err := r.Header(); err == nil {
		fmt.Fprintf(w, "# version %d %s system %d\n", h.Version, h.Signature, h.SystemVersion)
	}
	for ev, err := range r.Events() {
		if err != nil {
			return err
		}
		fmt.Fprintln(w, ev)
	}
	return nil
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Read the destination table back and print its head",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := cfg.Log.NewLogger(cmd.ErrOrStderr())
			recs, err := runner.New(cfg, log).ReadBack(context.Background())
			if err != nil {
				return err
			}
			head, _ := cmd.Flags().GetInt("head")
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d rows\n", cfg.Sink.Table, len(recs))
			for i, r := range recs {
				if i >= head {
					break
				}
				text := "NULL"
				if r.Text != nil {
					text = fmt.Sprintf("%q", *r.Text)
				}
				fmt.Fprintf(out, "%d\t%s\t%d\t%s\t%s\n", r.RowID, r.GUID, r.Seq, r.Source, text)
			}
			return nil
		},
	}
	cmd.Flags().Int("head", 5, "rows to print")
	storeFlags(cmd)
	return cmd
}
