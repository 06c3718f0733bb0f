// Package encoder retimes timestamped buffers onto a container session that
// starts at zero.
//
// SourceEncoder writes one source into its own file and is what the recorder
// uses. MultiTrackEncoder writes several sources into one shared container
// and is kept as an alternative for callers that want a single file without
// a remix step.
package encoder

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/activity"
	"github.com/tphakala/trackmix/internal/audiocore/container"
	"github.com/tphakala/trackmix/internal/audiocore/dsp"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
	"github.com/tphakala/trackmix/internal/observability/metrics"
)

// ComponentEncoder identifies errors raised by encoders
const ComponentEncoder = "encoder"

// dropLogInterval limits how often dropped buffers are logged per encoder
const dropLogInterval = time.Second

type options struct {
	tracker    *activity.Tracker
	newTracker func() *activity.Tracker
	factory    container.Factory
	log        logger.Logger
	metrics    *metrics.CaptureMetrics
}

// Option configures an encoder
type Option func(*options)

// WithTracker attaches an activity tracker to a SourceEncoder
func WithTracker(t *activity.Tracker) Option {
	return func(o *options) {
		o.tracker = t
	}
}

// WithTrackerFactory sets how MultiTrackEncoder creates trackers for
// microphone tracks. The default uses activity.NewDefaultTracker.
func WithTrackerFactory(f func() *activity.Tracker) Option {
	return func(o *options) {
		o.newTracker = f
	}
}

// WithWriterFactory replaces container.Create
func WithWriterFactory(f container.Factory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithMetrics records drops and finalizations
func WithMetrics(m *metrics.CaptureMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func buildOptions(opts []Option) options {
	o := options{
		factory:    container.Create,
		newTracker: activity.NewDefaultTracker,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = GetLogger()
	}
	return o
}

// GetLogger returns the encoder module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("encoder")
}

func newDropLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(dropLogInterval), 1)
}

// conform resamples buf to the session rate when a producer delivered
// another rate
func conform(buf *audiocore.Buffer, sampleRate int) error {
	if buf.SampleRate == sampleRate || buf.SampleRate <= 0 {
		return nil
	}
	resampled, err := dsp.Resample(buf.Samples, buf.SampleRate, sampleRate)
	if err != nil {
		return err
	}
	buf.Samples = resampled
	buf.SampleRate = sampleRate
	return nil
}

// writeFailed wraps the writer's failure so callers can match ErrWriteFailed
// and the underlying cause
func writeFailed(path string, status container.Status, cause error) error {
	if cause == nil {
		cause = errors.Newf("container finished with status %s", status).
			Component(ComponentEncoder).
			Category(errors.CategoryFileIO).
			Build()
	}
	return errors.New(errors.Join(audiocore.ErrWriteFailed, cause)).
		Component(ComponentEncoder).
		Category(errors.CategoryFileIO).
		FileContext(path, 0).
		Context("status", status.String()).
		Build()
}
