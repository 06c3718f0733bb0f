package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

const (
	bytesPerSample = 4 // f32le

	// ringSeconds of audio are buffered per track between Append and the
	// ffmpeg input pipe
	ringSeconds = 2

	// appendTimeout bounds how long Append waits for ffmpeg to accept data
	appendTimeout = 5 * time.Second
)

// ffmpegTrack owns one ffmpeg input pipe
type ffmpegTrack struct {
	source   audiocore.SourceType
	clock    trackClock
	ring     *ringbuffer.RingBuffer
	pipeR    *os.File // handed to ffmpeg
	pipeW    *os.File
	wake     chan struct{} // data or finish available for the drain loop
	space    chan struct{} // the drain loop freed ring space
	finished atomic.Bool
	drained  chan struct{}
	err      atomic.Pointer[error]
}

func (t *ffmpegTrack) failure() error {
	if p := t.err.Load(); p != nil {
		return *p
	}
	return nil
}

func poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// drain copies buffered PCM into the ffmpeg pipe until the track is finished
// and the ring is empty, then closes the pipe so ffmpeg sees EOF.
func (t *ffmpegTrack) drain(log logger.Logger) {
	defer close(t.drained)
	defer func() {
		if err := t.pipeW.Close(); err != nil {
			log.Debug("closing track pipe failed", logger.Error(err))
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		n, _ := t.ring.Read(buf)
		if n > 0 {
			poke(t.space)
			if _, err := t.pipeW.Write(buf[:n]); err != nil {
				wrapped := errors.New(err).
					Component(ComponentContainer).
					Category(errors.CategoryContainer).
					Context("operation", "write_track_pipe").
					Build()
				var e error = wrapped
				t.err.Store(&e)
				poke(t.space)
				return
			}
			continue
		}

		if t.finished.Load() && t.ring.Length() == 0 {
			return
		}
		<-t.wake
	}
}

// FFmpegWriter streams each track into its own ffmpeg input pipe and muxes
// them as separate AAC streams in fragmented MP4.
type FFmpegWriter struct {
	mu         sync.Mutex
	path       string
	ffmpeg     string
	settings   audiocore.EncoderSettings
	out        *os.File
	tracks     []*ffmpegTrack
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	stderr     bytes.Buffer
	started    bool
	status     Status
	err        error
	end        time.Duration
	finalizing bool
	done       chan struct{}
	once       sync.Once
	log        logger.Logger
}

// NewFFmpegWriter creates the output file and prepares a writer. ffmpeg is
// started by StartSession once all tracks are known.
func NewFFmpegWriter(ffmpegPath, path string, settings audiocore.EncoderSettings) (*FFmpegWriter, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	out, err := os.Create(path) //nolint:gosec // G304: path is chosen by the recorder
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("operation", "create_output").
			Build()
	}

	return &FFmpegWriter{
		path:     path,
		ffmpeg:   ffmpegPath,
		settings: settings,
		out:      out,
		done:     make(chan struct{}),
		log:      GetLogger().With(logger.String("backend", "ffmpeg")),
	}, nil
}

// AddTrack implements Writer. Tracks cannot be added once ffmpeg runs.
func (w *FFmpegWriter) AddTrack(source audiocore.SourceType) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.finalizing || w.status == StatusCancelled {
		return -1, notReady(w.path, "ffmpeg already started")
	}

	pipeR, pipeW, err := os.Pipe()
	if err != nil {
		return -1, errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategorySystem).
			Context("operation", "create_track_pipe").
			Build()
	}

	w.tracks = append(w.tracks, &ffmpegTrack{
		source:  source,
		clock:   newTrackClock(w.settings.SampleRate),
		ring:    ringbuffer.New(w.settings.SampleRate * bytesPerSample * ringSeconds),
		pipeR:   pipeR,
		pipeW:   pipeW,
		wake:    make(chan struct{}, 1),
		space:   make(chan struct{}, 1),
		drained: make(chan struct{}),
	})
	return len(w.tracks) - 1, nil
}

func (w *FFmpegWriter) buildArgs() []string {
	rate := strconv.Itoa(w.settings.SampleRate)
	args := []string{"-hide_banner", "-loglevel", "error", "-y"}

	for i := range w.tracks {
		// ExtraFiles start at descriptor 3
		args = append(args, "-f", "f32le", "-ar", rate, "-ac", "1", "-i", "pipe:"+strconv.Itoa(3+i))
	}
	for i := range w.tracks {
		args = append(args, "-map", strconv.Itoa(i)+":a")
	}
	args = append(args, "-c:a", "aac", "-b:a", w.settings.BitRate, "-ar", rate, "-ac", "1")
	for i, t := range w.tracks {
		args = append(args, fmt.Sprintf("-metadata:s:a:%d", i), "title="+t.source.Key())
	}
	return append(args, "-movflags", fragmentFlags, "-f", "mp4", "pipe:1")
}

// StartSession implements Writer by starting ffmpeg
func (w *FFmpegWriter) StartSession() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startLocked()
}

func (w *FFmpegWriter) startLocked() error {
	if w.started || w.status != StatusUnknown {
		return notReady(w.path, "session already started")
	}
	if len(w.tracks) == 0 {
		return errors.New(audiocore.ErrNoTracksAttached).
			Component(ComponentContainer).
			Category(errors.CategoryProcessing).
			FileContext(w.path, 0).
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, w.ffmpeg, w.buildArgs()...) //nolint:gosec // G204: arguments are built internally
	cmd.Stdout = w.out
	cmd.Stderr = &w.stderr
	for _, t := range w.tracks {
		cmd.ExtraFiles = append(cmd.ExtraFiles, t.pipeR)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategoryCommandExecution).
			Context("operation", "start_ffmpeg").
			Build()
	}

	// the child holds its own copies of the read ends
	for _, t := range w.tracks {
		_ = t.pipeR.Close()
		go t.drain(w.log)
	}

	w.cmd = cmd
	w.cancel = cancel
	w.started = true
	w.status = StatusWriting

	w.log.Debug("ffmpeg started",
		logger.String("path", w.path),
		logger.Int("tracks", len(w.tracks)))
	return nil
}

// ReadyForMoreData implements Writer. A track is ready while its ring has
// room for at least a tenth of a second of audio.
func (w *FFmpegWriter) ReadyForMoreData(track int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusWriting || w.finalizing || track < 0 || track >= len(w.tracks) {
		return false
	}
	t := w.tracks[track]
	if t.finished.Load() || t.failure() != nil {
		return false
	}
	return t.ring.Free() >= w.settings.SampleRate*bytesPerSample/10
}

// Append implements Writer. It waits for ring space when a write is larger
// than the free space, up to appendTimeout.
func (w *FFmpegWriter) Append(track int, samples []float32, pts time.Duration) error {
	w.mu.Lock()
	if w.status != StatusWriting || w.finalizing {
		w.mu.Unlock()
		return notReady(w.path, w.status.String())
	}
	if track < 0 || track >= len(w.tracks) {
		w.mu.Unlock()
		return badTrack(track)
	}
	t := w.tracks[track]
	if t.finished.Load() {
		w.mu.Unlock()
		return notReady(w.path, "track finished")
	}
	pad, keep := t.clock.place(samples, pts)
	w.mu.Unlock()

	return w.writeTrack(t, pad, keep)
}

func (w *FFmpegWriter) writeTrack(t *ffmpegTrack, pad int64, samples []float32) error {
	if pad > 0 {
		silence := make([]byte, min(pad, int64(w.settings.SampleRate))*bytesPerSample)
		for pad > 0 {
			n := min(pad, int64(len(silence)/bytesPerSample))
			if err := w.writeRing(t, silence[:n*bytesPerSample]); err != nil {
				return err
			}
			pad -= n
		}
	}
	if len(samples) == 0 {
		return nil
	}
	return w.writeRing(t, encodeF32LE(samples))
}

func (w *FFmpegWriter) writeRing(t *ffmpegTrack, data []byte) error {
	deadline := time.NewTimer(appendTimeout)
	defer deadline.Stop()

	for len(data) > 0 {
		if err := t.failure(); err != nil {
			return err
		}
		n, err := t.ring.Write(data)
		data = data[n:]
		if n > 0 {
			poke(t.wake)
		}
		if len(data) == 0 {
			return nil
		}
		if err != nil && n == 0 && !errors.Is(err, ringbuffer.ErrIsFull) {
			return errors.New(err).
				Component(ComponentContainer).
				Category(errors.CategoryBuffer).
				Context("operation", "ring_write").
				Build()
		}

		select {
		case <-t.space:
		case <-deadline.C:
			return errors.Newf("ffmpeg did not accept audio within %s", appendTimeout).
				Component(ComponentContainer).
				Category(errors.CategoryTimeout).
				Context("operation", "ring_write").
				Build()
		}
	}
	return nil
}

func encodeF32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*bytesPerSample:], math.Float32bits(s))
	}
	return out
}

// MarkTrackFinished implements Writer. The track's pipe is closed once its
// buffered audio has been handed to ffmpeg.
func (w *FFmpegWriter) MarkTrackFinished(track int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if track < 0 || track >= len(w.tracks) {
		return badTrack(track)
	}
	t := w.tracks[track]
	t.finished.Store(true)
	poke(t.wake)
	return nil
}

// EndSession implements Writer. Tracks that end before the session are
// padded with silence during Finalize.
func (w *FFmpegWriter) EndSession(at time.Duration) {
	w.mu.Lock()
	if at > w.end {
		w.end = at
	}
	w.mu.Unlock()
}

// Finalize implements Writer
func (w *FFmpegWriter) Finalize() <-chan struct{} {
	w.once.Do(func() {
		w.mu.Lock()
		if w.status == StatusCancelled {
			w.mu.Unlock()
			return
		}
		if !w.started {
			if err := w.startLocked(); err != nil {
				w.failLocked(err)
				w.mu.Unlock()
				close(w.done)
				return
			}
		}
		w.finalizing = true
		w.mu.Unlock()

		go w.finalize()
	})
	return w.done
}

func (w *FFmpegWriter) failLocked(err error) {
	w.status = StatusFailed
	w.err = err
	if w.cancel != nil {
		w.cancel()
	}
	if cerr := w.out.Close(); cerr != nil {
		w.log.Debug("closing output failed", logger.Error(cerr))
	}
	w.log.Error("ffmpeg finalize failed", logger.String("path", w.path), logger.Error(err))
}

func (w *FFmpegWriter) finalize() {
	defer close(w.done)

	w.mu.Lock()
	tracks := w.tracks
	gaps := make([]int64, len(tracks))
	for i, t := range tracks {
		if t.finished.Load() {
			continue
		}
		if gap := audiocore.DurationToFrames(w.end-t.clock.position(), w.settings.SampleRate); gap > 0 {
			gaps[i] = gap
			t.clock.written += gap
		}
	}
	w.mu.Unlock()

	var firstErr error
	for i, t := range tracks {
		if gaps[i] > 0 {
			if err := w.writeTrack(t, gaps[i], nil); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		t.finished.Store(true)
		poke(t.wake)
	}
	for _, t := range tracks {
		<-t.drained
		if err := t.failure(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	waitErr := w.cmd.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	if waitErr != nil && firstErr == nil {
		firstErr = errors.New(waitErr).
			Component(ComponentContainer).
			Category(errors.CategoryCommandExecution).
			Context("operation", "ffmpeg_encode").
			Context("stderr", trimStderr(&w.stderr)).
			Build()
	}
	if firstErr != nil {
		w.failLocked(firstErr)
		return
	}

	w.cancel()
	if err := w.out.Close(); err != nil {
		w.status = StatusFailed
		w.err = errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategoryFileIO).
			Context("operation", "close_output").
			Build()
		return
	}
	w.status = StatusCompleted
}

// Status implements Writer
func (w *FFmpegWriter) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Err implements Writer
func (w *FFmpegWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Cancel implements Writer. It kills ffmpeg and removes the output. It has no
// effect once Finalize was called.
func (w *FFmpegWriter) Cancel() {
	w.mu.Lock()
	if w.finalizing || w.status == StatusCancelled || w.status == StatusFailed {
		w.mu.Unlock()
		return
	}
	w.status = StatusCancelled
	started := w.started
	cmd := w.cmd
	if w.cancel != nil {
		w.cancel()
	}
	tracks := w.tracks
	w.mu.Unlock()

	for _, t := range tracks {
		t.finished.Store(true)
		if started {
			_ = t.pipeW.Close()
			poke(t.wake)
		} else {
			_ = t.pipeR.Close()
			_ = t.pipeW.Close()
		}
	}
	if started {
		for _, t := range tracks {
			<-t.drained
		}
		_ = cmd.Wait()
	}

	if err := w.out.Close(); err != nil {
		w.log.Debug("closing output on cancel failed", logger.Error(err))
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		w.log.Warn("failed to remove cancelled output", logger.String("path", w.path), logger.Error(err))
	}

	w.once.Do(func() {})
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}

// Path implements Writer
func (w *FFmpegWriter) Path() string {
	return w.path
}
