package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RemixMetrics contains Prometheus metrics for segment remixing.
// All methods are safe to call on a nil receiver.
type RemixMetrics struct {
	remixTotal         *prometheus.CounterVec
	remixDuration      *prometheus.HistogramVec
	tracksWritten      prometheus.Counter
	tracksSkipped      *prometheus.CounterVec
	classifierVerdicts *prometheus.CounterVec
	classifyDuration   prometheus.Histogram
	silentTrackRemoved prometheus.Counter
}

// NewRemixMetrics creates and registers remix metrics
func NewRemixMetrics(registry prometheus.Registerer) (*RemixMetrics, error) {
	m := &RemixMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RemixMetrics) initMetrics() {
	m.remixTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackmix_remix_total",
			Help: "Total number of segment remix operations",
		},
		[]string{"status"}, // success, error, empty
	)

	m.remixDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trackmix_remix_duration_seconds",
			Help:    "Time taken to remix a segment",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"status"},
	)

	m.tracksWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trackmix_remix_tracks_written_total",
			Help: "Total number of tracks written to remixed segments",
		},
	)

	m.tracksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackmix_remix_tracks_skipped_total",
			Help: "Total number of sources left out of remixed segments",
		},
		[]string{"reason"},
	)

	m.classifierVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackmix_classifier_verdicts_total",
			Help: "Total number of speech classifier verdicts",
		},
		[]string{"verdict"},
	)

	m.classifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackmix_classifier_duration_seconds",
			Help:    "Time taken to classify one source",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)

	m.silentTrackRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trackmix_silent_tracks_removed_total",
			Help: "Total number of silent tracks removed from multi-track files",
		},
	)
}

// Describe implements the Collector interface
func (m *RemixMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.remixTotal.Describe(ch)
	m.remixDuration.Describe(ch)
	m.tracksWritten.Describe(ch)
	m.tracksSkipped.Describe(ch)
	m.classifierVerdicts.Describe(ch)
	m.classifyDuration.Describe(ch)
	m.silentTrackRemoved.Describe(ch)
}

// Collect implements the Collector interface
func (m *RemixMetrics) Collect(ch chan<- prometheus.Metric) {
	m.remixTotal.Collect(ch)
	m.remixDuration.Collect(ch)
	m.tracksWritten.Collect(ch)
	m.tracksSkipped.Collect(ch)
	m.classifierVerdicts.Collect(ch)
	m.classifyDuration.Collect(ch)
	m.silentTrackRemoved.Collect(ch)
}

// RecordRemix records the outcome and duration of a remix
func (m *RemixMetrics) RecordRemix(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.remixTotal.WithLabelValues(status).Inc()
	m.remixDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTracksWritten counts tracks in a written segment
func (m *RemixMetrics) RecordTracksWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tracksWritten.Add(float64(n))
}

// RecordTrackSkipped counts a source left out of a segment
func (m *RemixMetrics) RecordTrackSkipped(reason string) {
	if m == nil {
		return
	}
	m.tracksSkipped.WithLabelValues(reason).Inc()
}

// RecordVerdict records a classifier verdict and how long it took
func (m *RemixMetrics) RecordVerdict(verdict string, duration time.Duration) {
	if m == nil {
		return
	}
	m.classifierVerdicts.WithLabelValues(verdict).Inc()
	m.classifyDuration.Observe(duration.Seconds())
}

// RecordSilentTracksRemoved counts tracks dropped by silent track removal
func (m *RemixMetrics) RecordSilentTracksRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.silentTrackRemoved.Add(float64(n))
}
