package config

import (
	"os"
	"strconv"
)

// ApplyEnv overlays TYPEDSTREAM_* environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	str := map[string]*string{
		"TYPEDSTREAM_SOURCE_DRIVER":   &cfg.Source.Driver,
		"TYPEDSTREAM_SOURCE_DSN":      &cfg.Source.DSN,
		"TYPEDSTREAM_SOURCE_QUERY":    &cfg.Source.Query,
		"TYPEDSTREAM_SINK_KIND":       &cfg.Sink.Kind,
		"TYPEDSTREAM_SINK_DSN":        &cfg.Sink.DSN,
		"TYPEDSTREAM_SINK_DIR":        &cfg.Sink.Dir,
		"TYPEDSTREAM_SINK_TABLE":      &cfg.Sink.Table,
		"TYPEDSTREAM_DECODER_UNKNOWN": &cfg.Decoder.Unknown,
		"TYPEDSTREAM_LOG_LEVEL":       &cfg.Log.Level,
		"TYPEDSTREAM_LOG_FORMAT":      &cfg.Log.Format,
		"TYPEDSTREAM_REPORT":          &cfg.Report,
		"TYPEDSTREAM_METRICS":         &cfg.Metrics,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("TYPEDSTREAM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("TYPEDSTREAM_DECODER_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Decoder.MaxDepth = n
		}
	}
	if v := os.Getenv("TYPEDSTREAM_VERIFY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Verify = b
		}
	}
}
