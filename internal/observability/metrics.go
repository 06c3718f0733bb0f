// Package observability provides metrics and monitoring capabilities for trackmix.
package observability

import (
	stdlog "log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Capture  *metrics.CaptureMetrics
	Remix    *metrics.RemixMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, wrapRegisterError(err, "go")
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, wrapRegisterError(err, "process")
	}

	captureMetrics, err := metrics.NewCaptureMetrics(registry)
	if err != nil {
		return nil, wrapRegisterError(err, "capture")
	}

	remixMetrics, err := metrics.NewRemixMetrics(registry)
	if err != nil {
		return nil, wrapRegisterError(err, "remix")
	}

	return &Metrics{
		registry: registry,
		Capture:  captureMetrics,
		Remix:    remixMetrics,
	}, nil
}

// Registry returns the underlying prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      stdlog.New(os.Stderr, "metrics handler: ", stdlog.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}

func wrapRegisterError(err error, collector string) error {
	return errors.New(err).
		Component("observability").
		Category(errors.CategorySystem).
		Context("collector", collector).
		Build()
}
