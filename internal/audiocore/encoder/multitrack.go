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

// TrackState is the encoder's record of one track
type TrackState struct {
	Index    int
	Source   audiocore.SourceType
	Finished bool
	Tracker  *activity.Tracker // nil for system audio
	handle   int               // container track index
}

// TrackInfo describes a track after or during encoding
type TrackInfo struct {
	Index              int
	Source             audiocore.SourceType
	Finished           bool
	HadMeaningfulAudio bool
}

// MultiTrackEncoder writes several sources into one container with a shared
// session. The first buffer on any track anchors the session, and the
// container is finalized once every added track has finished.
type MultiTrackEncoder struct {
	mu         sync.Mutex
	path       string
	settings   audiocore.EncoderSettings
	writer     container.Writer
	tracks     []*TrackState
	newTracker func() *activity.Tracker
	log        logger.Logger
	metrics    *metrics.CaptureMetrics
	dropLog    *rate.Limiter

	started    bool
	first      time.Time
	last       time.Time
	finalizing bool
	dropped    uint64

	done    chan struct{}
	waitErr error
}

// NewMultiTrackEncoder creates the shared container at path
func NewMultiTrackEncoder(path string, settings audiocore.EncoderSettings, opts ...Option) (*MultiTrackEncoder, error) {
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
			Context("operation", "create_container").
			Build()
	}

	return &MultiTrackEncoder{
		path:       path,
		settings:   settings,
		writer:     writer,
		newTracker: o.newTracker,
		log:        o.log.With(logger.String("path", path)),
		metrics:    o.metrics,
		dropLog:    newDropLimiter(),
		done:       make(chan struct{}),
	}, nil
}

// AddTrack adds a track for source and returns its index. Microphone
// tracks get an activity tracker.
func (m *MultiTrackEncoder) AddTrack(source audiocore.SourceType) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalizing {
		return -1, errors.New(audiocore.ErrWriterNotReady).
			Component(ComponentEncoder).
			Category(errors.CategoryState).
			FileContext(m.path, 0).
			Context("source", source.Key()).
			Context("reason", "finalizing").
			Build()
	}

	handle, err := m.writer.AddTrack(source)
	if err != nil {
		return -1, err
	}

	state := &TrackState{
		Index:  len(m.tracks),
		Source: source,
		handle: handle,
	}
	if !source.IsSystemAudio() && m.newTracker != nil {
		state.Tracker = m.newTracker()
	}
	m.tracks = append(m.tracks, state)
	return state.Index, nil
}

// Append writes buf to track index. Buffers for unknown or finished tracks
// are ignored.
func (m *MultiTrackEncoder) Append(index int, buf audiocore.Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalizing || index < 0 || index >= len(m.tracks) || len(buf.Samples) == 0 {
		return
	}
	t := m.tracks[index]
	if t.Finished {
		return
	}
	key := t.Source.Key()

	if err := conform(&buf, m.settings.SampleRate); err != nil {
		m.drop(key, metrics.DropConvertError, err)
		return
	}

	if !m.started {
		m.started = true
		m.first = buf.Timestamp
		m.last = buf.Timestamp
		if err := m.writer.StartSession(); err != nil {
			m.log.Error("failed to start container session", logger.Error(err))
		}
	}

	elapsed := buf.Timestamp.Sub(m.first)
	if m.settings.MaxDuration > 0 && elapsed >= m.settings.MaxDuration {
		m.drop(key, metrics.DropTruncated, nil)
		m.finishTrackLocked(t)
		return
	}

	if !m.writer.ReadyForMoreData(t.handle) {
		m.drop(key, metrics.DropNotReady, nil)
		return
	}
	// a negative elapsed time is trimmed by the writer's track clock
	if err := m.writer.Append(t.handle, buf.Samples, elapsed); err != nil {
		m.drop(key, metrics.DropWriteError, err)
		return
	}

	if end := buf.Timestamp.Add(buf.Duration); end.After(m.last) {
		m.last = end
	}
	if t.Tracker != nil {
		t.Tracker.ProcessBuffer(&buf)
	}
	m.metrics.RecordFramesWritten(key, len(buf.Samples))
}

func (m *MultiTrackEncoder) drop(source, reason string, err error) {
	m.dropped++
	m.metrics.RecordBufferDropped(source, reason)
	if !m.dropLog.Allow() {
		return
	}
	fields := []logger.Field{
		logger.String("source", source),
		logger.String("reason", reason),
		logger.Uint64("dropped_total", m.dropped),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	m.log.Debug("buffer dropped", fields...)
}

// FinishTrack finishes one track. The container is finalized when the last
// unfinished track finishes.
func (m *MultiTrackEncoder) FinishTrack(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.tracks) {
		return errors.Newf("track %d does not exist", index).
			Component(ComponentEncoder).
			Category(errors.CategoryValidation).
			Context("track", index).
			Build()
	}
	m.finishTrackLocked(m.tracks[index])
	return nil
}

// FinishAllTracks finishes every track and finalizes the container. It is
// safe to call repeatedly and with no tracks added.
func (m *MultiTrackEncoder) FinishAllTracks() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.tracks) == 0 {
		return
	}
	for _, t := range m.tracks {
		m.markFinishedLocked(t)
	}
	m.maybeFinalizeLocked()
}

func (m *MultiTrackEncoder) finishTrackLocked(t *TrackState) {
	m.markFinishedLocked(t)
	m.maybeFinalizeLocked()
}

func (m *MultiTrackEncoder) markFinishedLocked(t *TrackState) {
	if t.Finished {
		return
	}
	t.Finished = true
	if err := m.writer.MarkTrackFinished(t.handle); err != nil {
		m.log.Warn("failed to mark track finished",
			logger.String("source", t.Source.Key()),
			logger.Error(err))
	}
}

// maybeFinalizeLocked fires the container finalize exactly once, after all
// added tracks have finished
func (m *MultiTrackEncoder) maybeFinalizeLocked() {
	if m.finalizing {
		return
	}
	for _, t := range m.tracks {
		if !t.Finished {
			return
		}
	}
	m.finalizing = true

	if !m.started {
		m.writer.Cancel()
		m.metrics.RecordFinalization(metrics.StatusEmpty)
		m.log.Debug("no audio received, output discarded")
		close(m.done)
		return
	}

	m.writer.EndSession(m.last.Sub(m.first))
	go m.awaitFinalize(m.writer.Finalize())
}

func (m *MultiTrackEncoder) awaitFinalize(finalized <-chan struct{}) {
	<-finalized

	status := m.writer.Status()
	var err error
	if status != container.StatusCompleted {
		err = writeFailed(m.path, status, m.writer.Err())
		m.metrics.RecordFinalization(metrics.StatusError)
		m.log.Error("container did not complete", logger.Error(err))
	} else {
		m.metrics.RecordFinalization(metrics.StatusSuccess)
	}

	m.mu.Lock()
	m.waitErr = err
	m.mu.Unlock()
	close(m.done)
}

// Wait blocks until the container finished finalizing
func (m *MultiTrackEncoder) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.waitErr
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component(ComponentEncoder).
			Category(errors.CategoryCancellation).
			FileContext(m.path, 0).
			Context("operation", "wait_finalize").
			Build()
	}
}

// TrackInfo returns a snapshot of every track
func (m *MultiTrackEncoder) TrackInfo() []TrackInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]TrackInfo, 0, len(m.tracks))
	for _, t := range m.tracks {
		infos = append(infos, TrackInfo{
			Index:              t.Index,
			Source:             t.Source,
			Finished:           t.Finished,
			HadMeaningfulAudio: meaningful(t),
		})
	}
	return infos
}

// SilenceInfo returns one meaningful-audio flag per track, in track order.
// The result can be passed to remix.RemoveSilentTracks.
func (m *MultiTrackEncoder) SilenceInfo() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	flags := make([]bool, len(m.tracks))
	for i, t := range m.tracks {
		flags[i] = meaningful(t)
	}
	return flags
}

// Path returns the output file path
func (m *MultiTrackEncoder) Path() string { return m.path }

func meaningful(t *TrackState) bool {
	if t.Source.IsSystemAudio() || t.Tracker == nil {
		return true
	}
	return t.Tracker.HadMeaningfulAudio()
}
