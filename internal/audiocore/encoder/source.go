package encoder

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/activity"
	"github.com/tphakala/trackmix/internal/audiocore/container"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
	"github.com/tphakala/trackmix/internal/observability/metrics"
)

// encoderState is the SourceEncoder lifecycle
type encoderState int

const (
	stateIdle encoderState = iota
	stateSessionStarted
	stateFinished
)

// SourceEncoder writes the buffers of a single source into its own
// container. The first buffer anchors the session at zero; every later
// buffer is placed at its timestamp minus the first buffer's timestamp.
//
// Append and Finish may be called from different goroutines.
type SourceEncoder struct {
	mu       sync.Mutex
	path     string
	source   audiocore.SourceType
	anchor   time.Time
	settings audiocore.EncoderSettings
	writer   container.Writer
	track    int
	tracker  *activity.Tracker
	log      logger.Logger
	metrics  *metrics.CaptureMetrics
	dropLog  *rate.Limiter

	state   encoderState
	first   time.Time
	last    time.Time // end of the last accepted buffer
	dropped uint64
	info    audiocore.SourceTimingInfo

	done    chan struct{}
	waitErr error
}

// NewSourceEncoder creates the container at path and adds the source's
// single track. anchor is the segment start that offsets are measured from;
// a file whose first buffer predates it reports a zero StartOffset.
func NewSourceEncoder(path string, source audiocore.SourceType, anchor time.Time, settings audiocore.EncoderSettings, opts ...Option) (*SourceEncoder, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	writer, err := o.factory(path, settings)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentEncoder).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("source", source.Key()).
			Context("operation", "create_container").
			Build()
	}

	track, err := writer.AddTrack(source)
	if err != nil {
		writer.Cancel()
		return nil, errors.New(err).
			Component(ComponentEncoder).
			Category(errors.CategoryContainer).
			FileContext(path, 0).
			Context("source", source.Key()).
			Context("operation", "add_track").
			Build()
	}

	return &SourceEncoder{
		path:     path,
		source:   source,
		anchor:   anchor,
		settings: settings,
		writer:   writer,
		track:    track,
		tracker:  o.tracker,
		log:      o.log.With(logger.String("source", source.Key())),
		metrics:  o.metrics,
		dropLog:  newDropLimiter(),
		done:     make(chan struct{}),
	}, nil
}

// Append writes buf at its retimed position. It never blocks on a slow
// container: a buffer the writer cannot take right now is dropped.
func (e *SourceEncoder) Append(buf audiocore.Buffer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == stateFinished || len(buf.Samples) == 0 {
		return
	}

	if err := conform(&buf, e.settings.SampleRate); err != nil {
		e.drop(metrics.DropConvertError, err)
		return
	}

	if e.state == stateIdle {
		e.first = buf.Timestamp
		e.last = buf.Timestamp
		e.state = stateSessionStarted
		if err := e.writer.StartSession(); err != nil {
			e.log.Error("failed to start container session",
				logger.String("path", e.path),
				logger.Error(err))
		}
	}

	elapsed := buf.Timestamp.Sub(e.first)
	if e.settings.MaxDuration > 0 && elapsed >= e.settings.MaxDuration {
		e.drop(metrics.DropTruncated, nil)
		e.finishLocked()
		return
	}

	if !e.writer.ReadyForMoreData(e.track) {
		e.drop(metrics.DropNotReady, nil)
		return
	}

	if err := e.writer.Append(e.track, buf.Samples, elapsed); err != nil {
		e.drop(metrics.DropWriteError, err)
		return
	}

	if end := buf.Timestamp.Add(buf.Duration); end.After(e.last) {
		e.last = end
	}
	if e.tracker != nil {
		e.tracker.ProcessBuffer(&buf)
	}
	e.metrics.RecordFramesWritten(e.source.Key(), len(buf.Samples))
}

func (e *SourceEncoder) drop(reason string, err error) {
	e.dropped++
	e.metrics.RecordBufferDropped(e.source.Key(), reason)
	if !e.dropLog.Allow() {
		return
	}
	fields := []logger.Field{
		logger.String("reason", reason),
		logger.Uint64("dropped_total", e.dropped),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	e.log.Debug("buffer dropped", fields...)
}

// Finish ends the session and finalizes the container in the background.
// A source that never received a buffer leaves no file behind. Calling
// Finish again returns the same timing and does nothing else.
func (e *SourceEncoder) Finish() audiocore.SourceTimingInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finishLocked()
}

func (e *SourceEncoder) finishLocked() audiocore.SourceTimingInfo {
	if e.state == stateFinished {
		return e.info
	}
	started := e.state == stateSessionStarted
	e.state = stateFinished

	if !started {
		e.info = audiocore.SourceTimingInfo{Source: e.source}
		e.writer.Cancel()
		e.metrics.RecordFinalization(metrics.StatusEmpty)
		e.log.Debug("no audio received, output discarded", logger.String("path", e.path))
		close(e.done)
		return e.info
	}

	// buffers queued before a rotation can carry timestamps earlier than the
	// new anchor; they start the file at zero with their length kept
	start := max(e.first.Sub(e.anchor), 0)
	e.info = audiocore.SourceTimingInfo{
		Source:      e.source,
		StartOffset: start,
		EndOffset:   start + e.last.Sub(e.first),
		HasAudio:    true,
	}

	if err := e.writer.MarkTrackFinished(e.track); err != nil {
		e.log.Warn("failed to mark track finished", logger.Error(err))
	}
	e.writer.EndSession(e.last.Sub(e.first))
	finalized := e.writer.Finalize()

	go e.awaitFinalize(finalized)
	return e.info
}

func (e *SourceEncoder) awaitFinalize(finalized <-chan struct{}) {
	<-finalized

	status := e.writer.Status()
	var err error
	if status != container.StatusCompleted {
		err = writeFailed(e.path, status, e.writer.Err())
		e.metrics.RecordFinalization(metrics.StatusError)
		e.log.Error("container did not complete",
			logger.String("path", e.path),
			logger.String("status", status.String()),
			logger.Error(err))
	} else {
		e.metrics.RecordFinalization(metrics.StatusSuccess)
		e.log.Debug("container finalized",
			logger.String("path", e.path),
			logger.Duration("duration", e.info.Span()))
	}

	e.mu.Lock()
	e.waitErr = err
	e.mu.Unlock()
	close(e.done)
}

// Wait blocks until the container finished finalizing. It returns an error
// matching audiocore.ErrWriteFailed when the container did not complete.
// Wait before Finish blocks until Finish is called or ctx ends.
func (e *SourceEncoder) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.waitErr
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component(ComponentEncoder).
			Category(errors.CategoryCancellation).
			FileContext(e.path, 0).
			Context("operation", "wait_finalize").
			Build()
	}
}

// Path returns the output file path
func (e *SourceEncoder) Path() string { return e.path }

// Source returns the encoded source
func (e *SourceEncoder) Source() audiocore.SourceType { return e.source }

// Tracker returns the activity tracker, which may be nil
func (e *SourceEncoder) Tracker() *activity.Tracker { return e.tracker }

// Dropped returns the number of buffers dropped so far
func (e *SourceEncoder) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}
