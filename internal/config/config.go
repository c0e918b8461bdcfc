// Package config loads the settings of a backfill run from a file and the
// environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rawbytedev/typedstream"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const DefaultQuery = "SELECT ROWID, guid, text, attributedBody, date FROM message ORDER BY date ASC"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Config is the top-level configuration of one run.
type Config struct {
	Source  SourceConfig  `json:"source" yaml:"source"`
	Sink    SinkConfig    `json:"sink" yaml:"sink"`
	Decoder DecoderConfig `json:"decoder" yaml:"decoder"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Workers int           `json:"workers" yaml:"workers"`
	// Report is the diagnostics file; a .zst suffix compresses it.
	Report string `json:"report" yaml:"report"`
	// Metrics is a prometheus textfile written after the run.
	Metrics string `json:"metrics" yaml:"metrics"`
	Verify  bool   `json:"verify" yaml:"verify"`
}

type SourceConfig struct {
	Driver string `json:"driver" yaml:"driver"` // sqlite or postgres
	DSN    string `json:"dsn" yaml:"dsn"`
	Query  string `json:"query" yaml:"query"`
}

type SinkConfig struct {
	Kind  string `json:"kind" yaml:"kind"` // duckdb or parquet
	DSN   string `json:"dsn" yaml:"dsn"`   // duckdb database path, empty for in-memory
	Dir   string `json:"dir" yaml:"dir"`   // parquet output directory
	Table string `json:"table" yaml:"table"`
}

type DecoderConfig struct {
	MaxDepth int               `json:"maxDepth" yaml:"maxDepth"`
	Unknown  string            `json:"unknown" yaml:"unknown"`
	Classes  map[string]string `json:"classes" yaml:"classes"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text or json
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Source: SourceConfig{Driver: "sqlite", Query: DefaultQuery},
		Sink:   SinkConfig{Kind: "duckdb", Dir: ".", Table: "message_enriched"},
		Decoder: DecoderConfig{
			MaxDepth: 64,
			Unknown:  "skip",
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Workers: 0,
	}
}

// Load reads configuration from a JSON or YAML file (by extension) over the
// defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

// Validate reports the first setting a run cannot start with.
func (c Config) Validate() error {
	switch c.Source.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: source driver %q", ErrInvalidConfig, c.Source.Driver)
	}
	if c.Source.DSN == "" {
		return fmt.Errorf("%w: source dsn is empty", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Source.Query) == "" {
		return fmt.Errorf("%w: source query is empty", ErrInvalidConfig)
	}
	switch c.Sink.Kind {
	case "duckdb":
	case "parquet":
		if c.Sink.Dir == "" {
			return fmt.Errorf("%w: parquet sink needs a directory", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: sink kind %q", ErrInvalidConfig, c.Sink.Kind)
	}
	if err := ValidIdent(c.Sink.Table); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers %d", ErrInvalidConfig, c.Workers)
	}
	if _, err := c.DecoderOptions(); err != nil {
		return err
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// ValidIdent checks a destination table name.
func ValidIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: table name %q", ErrInvalidConfig, name)
	}
	return nil
}

// ParseRule maps skip, walk or text to a class rule.
func ParseRule(s string) (typedstream.ClassRule, error) {
	switch strings.ToLower(s) {
	case "", "skip":
		return typedstream.RuleSkip, nil
	case "walk":
		return typedstream.RuleWalk, nil
	case "text":
		return typedstream.RuleText, nil
	}
	return 0, fmt.Errorf("%w: class rule %q", ErrInvalidConfig, s)
}

// DecoderOptions converts the decoder section.
func (c Config) DecoderOptions() (typedstream.Options, error) {
	if c.Decoder.MaxDepth < 0 {
		return typedstream.Options{}, fmt.Errorf("%w: decoder maxDepth %d", ErrInvalidConfig, c.Decoder.MaxDepth)
	}
	unknown, err := ParseRule(c.Decoder.Unknown)
	if err != nil {
		return typedstream.Options{}, err
	}
	opts := typedstream.Options{MaxDepth: c.Decoder.MaxDepth, Unknown: unknown}
	if len(c.Decoder.Classes) > 0 {
		opts.Classes = make(map[string]typedstream.ClassRule, len(c.Decoder.Classes))
		for name, s := range c.Decoder.Classes {
			r, err := ParseRule(s)
			if err != nil {
				return typedstream.Options{}, fmt.Errorf("class %s: %w", name, err)
			}
			opts.Classes[name] = r
		}
	}
	return opts, nil
}

func (l LogConfig) level() (slog.Level, error) {
	var lv slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lv.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, l.Level)
	}
	return lv, nil
}

// NewLogger builds the run logger described by l, writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lv, err := l.level()
	if err != nil {
		lv = slog.LevelInfo
	}
	ho := &slog.HandlerOptions{Level: lv}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}
