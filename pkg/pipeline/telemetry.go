package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cordmetrics/pkg/segmentation"
)

const metricsNamespace = "cordmetrics"

// Combination outcomes
const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusAborted = "aborted"
	StatusFailed  = "failed"
)

// Telemetry holds the run counters. It is written to a node-exporter
// textfile once the run ends.
type Telemetry struct {
	Registry *prometheus.Registry

	// Combinations counts processed combinations by status
	Combinations *prometheus.CounterVec

	// Slices counts slices passed through the metrics engine
	Slices prometheus.Counter

	// AbsentRatios counts ratios written as nan, by metric
	AbsentRatios *prometheus.CounterVec

	// Segmentations counts resolved artifacts by tissue and provenance
	Segmentations *prometheus.CounterVec

	// Duration observes the wall time of one combination
	Duration prometheus.Histogram
}

// NewTelemetry creates the counters on a fresh registry
func NewTelemetry() *Telemetry {
	t := &Telemetry{
		Registry: prometheus.NewRegistry(),
		Combinations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "combinations_total",
				Help:      "Processed acquisition/reconstruction combinations by status",
			},
			[]string{"status"},
		),
		Slices: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "slices_total",
				Help:      "Slices processed by the metrics engine",
			},
		),
		AbsentRatios: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "absent_ratios_total",
				Help:      "Per-slice ratios without a value (empty mask or zero std)",
			},
			[]string{"metric"},
		),
		Segmentations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "segmentations_total",
				Help:      "Resolved segmentation artifacts by tissue and provenance",
			},
			[]string{"tissue", "provenance"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "combination_duration_seconds",
				Help:      "Wall time of one combination",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}
	t.Registry.MustRegister(t.Combinations, t.Slices, t.AbsentRatios, t.Segmentations, t.Duration)
	return t
}

func (t *Telemetry) observe(status string, start time.Time) {
	t.Combinations.WithLabelValues(status).Inc()
	t.Duration.Observe(time.Since(start).Seconds())
}

func (t *Telemetry) resolved(res segmentation.Resolution) {
	t.Segmentations.WithLabelValues(string(res.Key.Tissue), string(res.Provenance)).Inc()
}

// WriteTextfile writes every metric in the text exposition format
func (t *Telemetry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, t.Registry)
}
