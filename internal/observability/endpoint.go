package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
	metricspkg "github.com/tphakala/trackmix/internal/observability/metrics"
)

// Endpoint serves the Prometheus scrape endpoint.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint creates an endpoint listening on listenAddress. An empty
// address means metrics are not exposed and is reported as an error.
func NewEndpoint(listenAddress string, metrics *Metrics) (*Endpoint, error) {
	if listenAddress == "" {
		return nil, errors.Newf("metrics listen address not configured").
			Component("observability").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if metrics == nil {
		return nil, errors.Newf("metrics not initialized").
			Component("observability").
			Category(errors.CategoryState).
			Build()
	}

	return &Endpoint{
		listenAddress: listenAddress,
		metrics:       metrics,
	}, nil
}

// Start runs the HTTP server in a goroutine tracked by wg and shuts it down
// once quitChan is closed.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Go(func() {
		log.Info("metrics endpoint starting", logger.String("address", e.listenAddress))
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics HTTP server error", logger.Error(err))
		}
	})

	wg.Go(func() {
		e.gracefulShutdown(quitChan)
	})
}

// gracefulShutdown waits for the quit signal and shuts down the server gracefully.
func (e *Endpoint) gracefulShutdown(quitChan <-chan struct{}) {
	<-quitChan
	log.Info("stopping metrics server")
	ctx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		log.Error("metrics server shutdown error", logger.Error(err))
	}
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
