package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CaptureMetrics contains Prometheus metrics for capture and per-source encoding.
// All methods are safe to call on a nil receiver.
type CaptureMetrics struct {
	buffersReceived  *prometheus.CounterVec
	buffersDropped   *prometheus.CounterVec
	framesWritten    *prometheus.CounterVec
	deviceRecoveries *prometheus.CounterVec
	activeSources    *prometheus.GaugeVec
	finalizations    *prometheus.CounterVec
	rotations        prometheus.Counter
}

// NewCaptureMetrics creates and registers capture metrics
func NewCaptureMetrics(registry prometheus.Registerer) (*CaptureMetrics, error) {
	m := &CaptureMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CaptureMetrics) initMetrics() {
	m.buffersReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackmix_capture_buffers_received_total",
			Help: "Total number of audio buffers delivered by capture sources",
		},
		[]string{"source"},
	)

	m.buffersDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackmix_capture_buffers_dropped_total",
			Help: "Total number of audio buffers dropped before reaching a container",
		},
		[]string{"source", "reason"},
	)

	m.framesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackmix_encoder_frames_written_total",
			Help: "Total number of sample frames appended to containers",
		},
		[]string{"source"},
	)

	m.deviceRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackmix_capture_device_recoveries_total",
			Help: "Total number of input device reconfiguration attempts",
		},
		[]string{"device", "status"},
	)

	m.activeSources = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trackmix_capture_active_sources",
			Help: "Number of sources currently capturing",
		},
		[]string{"kind"},
	)

	m.finalizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackmix_encoder_finalizations_total",
			Help: "Total number of per-source container finalizations",
		},
		[]string{"status"}, // success, error, empty
	)

	m.rotations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trackmix_capture_rotations_total",
			Help: "Total number of hot-swap segment rotations",
		},
	)
}

// Describe implements the Collector interface
func (m *CaptureMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.buffersReceived.Describe(ch)
	m.buffersDropped.Describe(ch)
	m.framesWritten.Describe(ch)
	m.deviceRecoveries.Describe(ch)
	m.activeSources.Describe(ch)
	m.finalizations.Describe(ch)
	m.rotations.Describe(ch)
}

// Collect implements the Collector interface
func (m *CaptureMetrics) Collect(ch chan<- prometheus.Metric) {
	m.buffersReceived.Collect(ch)
	m.buffersDropped.Collect(ch)
	m.framesWritten.Collect(ch)
	m.deviceRecoveries.Collect(ch)
	m.activeSources.Collect(ch)
	m.finalizations.Collect(ch)
	m.rotations.Collect(ch)
}

// RecordBufferReceived counts a buffer handed over by a capture callback
func (m *CaptureMetrics) RecordBufferReceived(source string) {
	if m == nil {
		return
	}
	m.buffersReceived.WithLabelValues(source).Inc()
}

// RecordBufferDropped counts a dropped buffer
func (m *CaptureMetrics) RecordBufferDropped(source, reason string) {
	if m == nil {
		return
	}
	m.buffersDropped.WithLabelValues(source, reason).Inc()
}

// RecordFramesWritten counts frames appended to a container
func (m *CaptureMetrics) RecordFramesWritten(source string, frames int) {
	if m == nil || frames <= 0 {
		return
	}
	m.framesWritten.WithLabelValues(source).Add(float64(frames))
}

// RecordDeviceRecovery counts a reconfiguration attempt
func (m *CaptureMetrics) RecordDeviceRecovery(device, status string) {
	if m == nil {
		return
	}
	m.deviceRecoveries.WithLabelValues(device, status).Inc()
}

// SetActiveSources sets the number of capturing sources of a kind
func (m *CaptureMetrics) SetActiveSources(kind string, n int) {
	if m == nil {
		return
	}
	m.activeSources.WithLabelValues(kind).Set(float64(n))
}

// RecordFinalization counts a finished per-source container
func (m *CaptureMetrics) RecordFinalization(status string) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(status).Inc()
}

// RecordRotation counts a segment rotation
func (m *CaptureMetrics) RecordRotation() {
	if m == nil {
		return
	}
	m.rotations.Inc()
}
