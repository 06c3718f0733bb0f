// Package container writes and reads the multi-track audio files produced by
// the encoders and the remixer.
//
// A Writer accepts mono float32 samples per track, each stamped with a
// presentation time relative to the session start. Writers place samples on
// the track timeline themselves: gaps are filled with silence and overlaps are
// trimmed, so callers only need to supply timestamps.
//
// Backends:
//   - ffmpeg: AAC in fragmented MP4 (.m4a, .mp4), one audio stream per track
//   - wav:    16-bit PCM (.wav), one channel per track
//   - flac:   read only (.flac)
package container

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

// ComponentContainer identifies errors raised by container backends
const ComponentContainer = "container"

// DefaultChunkFrames is the number of frames readers return per chunk
const DefaultChunkFrames = 4096

// Status is the lifecycle state of a Writer
type Status int

const (
	StatusUnknown   Status = iota // created, session not started
	StatusWriting                 // session started
	StatusCompleted               // finalized successfully
	StatusFailed                  // finalize or a write failed
	StatusCancelled               // cancelled, output removed
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusWriting:
		return "writing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "invalid"
	}
}

// Writer is a multi-track audio container being written.
//
// Tracks are added before StartSession (backends that allow it may accept
// tracks later). Append is not safe for concurrent use on the same track;
// callers serialize per writer.
type Writer interface {
	// AddTrack adds a mono track and returns its index
	AddTrack(source audiocore.SourceType) (int, error)
	// StartSession begins the timeline at presentation time 0
	StartSession() error
	// ReadyForMoreData reports whether Append on track would be accepted
	// without blocking
	ReadyForMoreData(track int) bool
	// Append places samples at pts on the track's timeline
	Append(track int, samples []float32, pts time.Duration) error
	// MarkTrackFinished signals that no more samples follow for track
	MarkTrackFinished(track int) error
	// EndSession records the presentation time of the last appended buffer
	EndSession(at time.Duration)
	// Finalize completes the file in the background. The returned channel is
	// closed when Status is no longer StatusWriting. Repeated calls return
	// the same channel.
	Finalize() <-chan struct{}
	// Status returns the current lifecycle state
	Status() Status
	// Err returns the failure cause once Status is StatusFailed
	Err() error
	// Cancel abandons the file and removes it from disk
	Cancel()
	// Path returns the output file path
	Path() string
}

// Chunk is a block of mono samples read from one track
type Chunk struct {
	Samples []float32
	PTS     time.Duration // position of Samples[0] on the track timeline
}

// TrackReader yields a track's samples in order. Next returns io.EOF after
// the last chunk.
type TrackReader interface {
	Next() (Chunk, error)
	Close() error
}

// Reader opens the tracks of an existing container
type Reader interface {
	// Tracks returns the number of audio tracks
	Tracks() int
	// Track opens track i for sequential reading
	Track(i int) (TrackReader, error)
	// SampleRate is the rate of the samples returned by track readers
	SampleRate() int
	Close() error
}

// Backend creates writers and opens readers for one container family
type Backend interface {
	Name() string
	Create(path string, settings audiocore.EncoderSettings) (Writer, error)
	Open(ctx context.Context, path string, sampleRate int) (Reader, error)
}

// TrackSelector is implemented by backends that can copy a subset of tracks
// into a new file without decoding them.
type TrackSelector interface {
	SelectTracks(ctx context.Context, src, dst string, keep []int) error
}

// BackendFor returns the backend responsible for path, chosen by extension
func BackendFor(path string, settings audiocore.EncoderSettings) (Backend, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return WAVBackend{}, nil
	case ".flac":
		return FLACBackend{}, nil
	case ".m4a", ".mp4", ".aac", ".mka", ".mkv", ".mov":
		return NewFFmpegBackend(settings.FFmpegPath), nil
	default:
		return nil, errors.Newf("no container backend for %q", filepath.Ext(path)).
			Component(ComponentContainer).
			Category(errors.CategoryValidation).
			FileContext(path, 0).
			Build()
	}
}

// Create creates a writer for path using the backend that owns its extension
func Create(path string, settings audiocore.EncoderSettings) (Writer, error) {
	backend, err := BackendFor(path, settings)
	if err != nil {
		return nil, err
	}
	return backend.Create(path, settings)
}

// Open opens path for reading, converting every track to sampleRate
func Open(ctx context.Context, path string, settings audiocore.EncoderSettings) (Reader, error) {
	backend, err := BackendFor(path, settings)
	if err != nil {
		return nil, err
	}
	return backend.Open(ctx, path, settings.SampleRate)
}

// Factory creates a container writer. Encoders take a Factory so tests can
// substitute their own writers.
type Factory func(path string, settings audiocore.EncoderSettings) (Writer, error)

// GetLogger returns the container module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("container")
}

func notReady(path string, reason string) error {
	return errors.New(audiocore.ErrWriterNotReady).
		Component(ComponentContainer).
		Category(errors.CategoryState).
		Context("reason", reason).
		FileContext(path, 0).
		Build()
}

func badTrack(track int) error {
	return errors.Newf("track %d does not exist", track).
		Component(ComponentContainer).
		Category(errors.CategoryValidation).
		Context("track", track).
		Build()
}
