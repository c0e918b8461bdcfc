// Package metrics records run metrics in a private registry and writes them
// as a prometheus textfile.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rawbytedev/typedstream/pkg/backfill"
)

type Metrics struct {
	Registry *prometheus.Registry

	Records        *prometheus.CounterVec
	DecodeFailures prometheus.Counter
	RunDuration    prometheus.Gauge
	LastSuccess    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "typedstream",
				Subsystem: "backfill",
				Name:      "records_total",
				Help:      "Records materialized, by where their text came from",
			},
			[]string{"source"},
		),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "typedstream",
			Subsystem: "backfill",
			Name:      "decode_failures_total",
			Help:      "Payloads that failed to decode",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "typedstream",
			Subsystem: "backfill",
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "typedstream",
			Subsystem: "backfill",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful run finished",
		}),
	}
	m.Registry.MustRegister(m.Records, m.DecodeFailures, m.RunDuration, m.LastSuccess)
	return m
}

// Observe records the outcome of one successful run.
func (m *Metrics) Observe(s backfill.Stats, took time.Duration, now time.Time) {
	m.Records.WithLabelValues(string(backfill.SourcePlain)).Add(float64(s.Plain))
	m.Records.WithLabelValues(string(backfill.SourcePayload)).Add(float64(s.Payload))
	m.Records.WithLabelValues(string(backfill.SourceNone)).Add(float64(s.None))
	m.DecodeFailures.Add(float64(s.Malformed))
	m.RunDuration.Set(took.Seconds())
	m.LastSuccess.Set(float64(now.Unix()))
}

// WriteFile writes the registry in text exposition format.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
