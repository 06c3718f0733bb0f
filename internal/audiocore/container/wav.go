package container

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/dsp"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

const wavBitDepth = 16

// WAVBackend stores tracks as channels of a 16-bit PCM WAV file. Samples are
// held in memory until Finalize, so it suits debugging and tests rather than
// long recordings.
type WAVBackend struct{}

// Name implements Backend
func (WAVBackend) Name() string { return "wav" }

// Create implements Backend
func (WAVBackend) Create(path string, settings audiocore.EncoderSettings) (Writer, error) {
	return NewWAVWriter(path, settings.SampleRate)
}

// Open implements Backend
func (WAVBackend) Open(_ context.Context, path string, sampleRate int) (Reader, error) {
	return OpenWAV(path, sampleRate)
}

type wavTrack struct {
	source   audiocore.SourceType
	samples  []float32
	clock    trackClock
	finished bool
}

// WAVWriter implements Writer for WAV output
type WAVWriter struct {
	mu         sync.Mutex
	path       string
	rate       int
	file       *os.File
	tracks     []*wavTrack
	status     Status
	err        error
	finalizing bool
	end        time.Duration
	done       chan struct{}
	once       sync.Once
	log        logger.Logger
}

// NewWAVWriter creates the output file immediately so that path problems
// surface at construction.
func NewWAVWriter(path string, sampleRate int) (*WAVWriter, error) {
	if sampleRate <= 0 {
		return nil, errors.New(audiocore.ErrInvalidFormat).
			Component(ComponentContainer).
			Category(errors.CategoryValidation).
			Context("sample_rate", sampleRate).
			Build()
	}

	f, err := os.Create(path) //nolint:gosec // G304: path is chosen by the recorder
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("operation", "create_wav").
			Build()
	}

	return &WAVWriter{
		path: path,
		rate: sampleRate,
		file: f,
		done: make(chan struct{}),
		log:  GetLogger().With(logger.String("backend", "wav")),
	}, nil
}

// AddTrack implements Writer. Tracks may be added until Finalize.
func (w *WAVWriter) AddTrack(source audiocore.SourceType) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalizing || w.status == StatusCancelled {
		return -1, notReady(w.path, "finalizing")
	}
	w.tracks = append(w.tracks, &wavTrack{source: source, clock: newTrackClock(w.rate)})
	return len(w.tracks) - 1, nil
}

// StartSession implements Writer
func (w *WAVWriter) StartSession() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusUnknown {
		return notReady(w.path, "session already started")
	}
	w.status = StatusWriting
	return nil
}

// ReadyForMoreData implements Writer
func (w *WAVWriter) ReadyForMoreData(track int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusWriting || w.finalizing {
		return false
	}
	if track < 0 || track >= len(w.tracks) {
		return false
	}
	return !w.tracks[track].finished
}

// Append implements Writer
func (w *WAVWriter) Append(track int, samples []float32, pts time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status != StatusWriting || w.finalizing {
		return notReady(w.path, w.status.String())
	}
	if track < 0 || track >= len(w.tracks) {
		return badTrack(track)
	}
	t := w.tracks[track]
	if t.finished {
		return notReady(w.path, "track finished")
	}

	pad, keep := t.clock.place(samples, pts)
	if pad > 0 {
		t.samples = append(t.samples, make([]float32, pad)...)
	}
	t.samples = append(t.samples, keep...)
	return nil
}

// MarkTrackFinished implements Writer
func (w *WAVWriter) MarkTrackFinished(track int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if track < 0 || track >= len(w.tracks) {
		return badTrack(track)
	}
	w.tracks[track].finished = true
	return nil
}

// EndSession implements Writer. Tracks shorter than the session are padded
// with silence when the file is written.
func (w *WAVWriter) EndSession(at time.Duration) {
	w.mu.Lock()
	if at > w.end {
		w.end = at
	}
	w.mu.Unlock()
}

// Finalize implements Writer
func (w *WAVWriter) Finalize() <-chan struct{} {
	w.once.Do(func() {
		w.mu.Lock()
		if w.status == StatusCancelled {
			w.mu.Unlock()
			return
		}
		w.finalizing = true
		if w.status == StatusUnknown {
			w.status = StatusWriting
		}
		tracks := w.tracks
		end := w.end
		w.mu.Unlock()

		go w.finalize(tracks, end)
	})
	return w.done
}

func (w *WAVWriter) finalize(tracks []*wavTrack, end time.Duration) {
	err := w.encode(tracks, end)

	w.mu.Lock()
	if err != nil {
		w.status = StatusFailed
		w.err = err
		w.log.Error("wav finalize failed", logger.String("path", w.path), logger.Error(err))
	} else {
		w.status = StatusCompleted
	}
	w.tracks = nil
	w.mu.Unlock()

	close(w.done)
}

func (w *WAVWriter) encode(tracks []*wavTrack, end time.Duration) error {
	defer func() {
		if err := w.file.Close(); err != nil {
			w.log.Warn("failed to close wav file", logger.Error(err))
		}
	}()

	channels := len(tracks)
	if channels == 0 {
		return errors.New(audiocore.ErrNoTracksAttached).
			Component(ComponentContainer).
			Category(errors.CategoryProcessing).
			FileContext(w.path, 0).
			Build()
	}

	frames := int(audiocore.DurationToFrames(end, w.rate))
	for _, t := range tracks {
		frames = max(frames, len(t.samples))
	}

	enc := wav.NewEncoder(w.file, w.rate, wavBitDepth, channels, 1)

	const block = DefaultChunkFrames
	data := make([]int, block*channels)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: w.rate},
		SourceBitDepth: wavBitDepth,
	}

	// at least one Write so the header is emitted for empty files
	start := 0
	for {
		n := min(block, frames-start)
		for f := range n {
			idx := start + f
			for c, t := range tracks {
				v := 0
				if idx < len(t.samples) {
					v = dsp.FloatToPCM16(t.samples[idx])
				}
				data[f*channels+c] = v
			}
		}
		buf.Data = data[:n*channels]
		if err := enc.Write(buf); err != nil {
			return errors.New(err).
				Component(ComponentContainer).
				Category(errors.CategoryContainer).
				Context("operation", "write_wav_frames").
				Build()
		}
		start += n
		if start >= frames {
			break
		}
	}

	if err := enc.Close(); err != nil {
		return errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategoryContainer).
			Context("operation", "close_wav_encoder").
			Build()
	}
	return nil
}

// Status implements Writer
func (w *WAVWriter) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Err implements Writer
func (w *WAVWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Cancel implements Writer. It has no effect once Finalize was called.
func (w *WAVWriter) Cancel() {
	w.mu.Lock()
	if w.finalizing || w.status == StatusCancelled {
		w.mu.Unlock()
		return
	}
	w.status = StatusCancelled
	w.tracks = nil
	w.mu.Unlock()

	if err := w.file.Close(); err != nil {
		w.log.Debug("close on cancel failed", logger.Error(err))
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		w.log.Warn("failed to remove cancelled wav", logger.String("path", w.path), logger.Error(err))
	}

	// Finalize after Cancel must not block callers waiting on done
	w.once.Do(func() {})
	close(w.done)
}

// Path implements Writer
func (w *WAVWriter) Path() string {
	return w.path
}

// memoryReader serves tracks that were fully decoded into memory
type memoryReader struct {
	rate   int
	tracks [][]float32
}

func (r *memoryReader) Tracks() int     { return len(r.tracks) }
func (r *memoryReader) SampleRate() int { return r.rate }
func (r *memoryReader) Close() error    { return nil }

func (r *memoryReader) Track(i int) (TrackReader, error) {
	if i < 0 || i >= len(r.tracks) {
		return nil, badTrack(i)
	}
	return &memoryTrackReader{samples: r.tracks[i], rate: r.rate}, nil
}

type memoryTrackReader struct {
	samples []float32
	rate    int
	pos     int
}

func (t *memoryTrackReader) Next() (Chunk, error) {
	if t.pos >= len(t.samples) {
		return Chunk{}, io.EOF
	}
	end := min(t.pos+DefaultChunkFrames, len(t.samples))
	chunk := Chunk{
		Samples: t.samples[t.pos:end],
		PTS:     audiocore.FramesToDuration(t.pos, t.rate),
	}
	t.pos = end
	return chunk, nil
}

func (t *memoryTrackReader) Close() error { return nil }

// OpenWAV decodes a WAV file and exposes each channel as a track at
// sampleRate. A sampleRate of 0 keeps the file's rate.
func OpenWAV(path string, sampleRate int) (Reader, error) {
	f, err := os.Open(path) //nolint:gosec // G304: caller supplied input file
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("operation", "open_wav").
			Build()
	}
	defer func() { _ = f.Close() }()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, invalidFile(path, "not a valid WAV file")
	}

	bitDepth := int(decoder.BitDepth)
	channels := int(decoder.NumChans)
	fileRate := int(decoder.SampleRate)
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return nil, invalidFile(path, "unsupported bit depth")
	}
	if channels < 1 || fileRate <= 0 {
		return nil, invalidFile(path, "missing channel or rate information")
	}

	tracks := make([][]float32, channels)
	buf := &audio.IntBuffer{
		Data:   make([]int, DefaultChunkFrames*channels),
		Format: &audio.Format{SampleRate: fileRate, NumChannels: channels},
	}

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return nil, errors.New(err).
				Component(ComponentContainer).
				Category(errors.CategoryFileIO).
				FileContext(path, 0).
				Context("operation", "decode_wav").
				Build()
		}
		if n == 0 {
			break
		}
		for i, v := range buf.Data[:n] {
			c := i % channels
			tracks[c] = append(tracks[c], dsp.PCMToFloat(v, bitDepth))
		}
	}

	return newMemoryReader(tracks, fileRate, sampleRate)
}

func newMemoryReader(tracks [][]float32, fileRate, sampleRate int) (*memoryReader, error) {
	if sampleRate <= 0 || sampleRate == fileRate {
		return &memoryReader{rate: fileRate, tracks: tracks}, nil
	}
	for i, t := range tracks {
		resampled, err := dsp.Resample(t, fileRate, sampleRate)
		if err != nil {
			return nil, err
		}
		tracks[i] = resampled
	}
	return &memoryReader{rate: sampleRate, tracks: tracks}, nil
}

func invalidFile(path, reason string) error {
	return errors.New(audiocore.ErrInvalidFormat).
		Component(ComponentContainer).
		Category(errors.CategoryValidation).
		FileContext(path, 0).
		Context("reason", reason).
		Build()
}
