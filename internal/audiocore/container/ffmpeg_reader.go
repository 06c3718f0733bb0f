package container

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/errors"
)

// FFmpegReader decodes tracks of any ffmpeg-readable file. Each open track
// runs its own ffmpeg process that outputs mono f32le at the target rate.
type FFmpegReader struct {
	ctx    context.Context
	ffmpeg string
	path   string
	rate   int
	tracks int

	mu   sync.Mutex
	open []*ffmpegTrackReader
}

// OpenFFmpeg probes path for audio streams and returns a reader producing
// samples at sampleRate.
func OpenFFmpeg(ctx context.Context, ffmpegPath, ffprobePath, path string, sampleRate int) (*FFmpegReader, error) {
	if sampleRate <= 0 {
		sampleRate = audiocore.DefaultSampleRate
	}

	count, err := probeAudioStreams(ctx, ffprobePath, path)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, invalidFile(path, "no audio streams")
	}

	return &FFmpegReader{
		ctx:    ctx,
		ffmpeg: ffmpegPath,
		path:   path,
		rate:   sampleRate,
		tracks: count,
	}, nil
}

// Tracks implements Reader
func (r *FFmpegReader) Tracks() int { return r.tracks }

// SampleRate implements Reader
func (r *FFmpegReader) SampleRate() int { return r.rate }

// Track implements Reader
func (r *FFmpegReader) Track(i int) (TrackReader, error) {
	if i < 0 || i >= r.tracks {
		return nil, badTrack(i)
	}

	cmd := exec.CommandContext(r.ctx, r.ffmpeg, //nolint:gosec // G204: arguments are built internally
		"-hide_banner", "-loglevel", "error",
		"-i", r.path,
		"-map", "0:a:"+strconv.Itoa(i),
		"-f", "f32le", "-ac", "1", "-ar", strconv.Itoa(r.rate),
		"pipe:1")

	tr := &ffmpegTrackReader{cmd: cmd, rate: r.rate}
	cmd.Stderr = &tr.stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategorySystem).
			Context("operation", "create_decoder_pipe").
			Build()
	}
	tr.stdout = stdout

	if err := cmd.Start(); err != nil {
		return nil, errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategoryCommandExecution).
			Context("operation", "start_decoder").
			Build()
	}

	r.mu.Lock()
	r.open = append(r.open, tr)
	r.mu.Unlock()
	return tr, nil
}

// Close implements Reader and stops any decoder still running
func (r *FFmpegReader) Close() error {
	r.mu.Lock()
	open := r.open
	r.open = nil
	r.mu.Unlock()

	for _, tr := range open {
		_ = tr.Close()
	}
	return nil
}

type ffmpegTrackReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	rate   int
	frames int
	buf    []byte

	mu   sync.Mutex
	done bool
	err  error
}

// Next implements TrackReader
func (t *ffmpegTrackReader) Next() (Chunk, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		if t.err != nil {
			return Chunk{}, t.err
		}
		return Chunk{}, io.EOF
	}

	if t.buf == nil {
		t.buf = make([]byte, DefaultChunkFrames*bytesPerSample)
	}

	n, err := io.ReadFull(t.stdout, t.buf)
	n -= n % bytesPerSample
	if n > 0 {
		samples := make([]float32, n/bytesPerSample)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.buf[i*bytesPerSample:]))
		}
		chunk := Chunk{Samples: samples, PTS: audiocore.FramesToDuration(t.frames, t.rate)}
		t.frames += len(samples)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			t.finishLocked(err)
		}
		return chunk, nil
	}

	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		t.finishLocked(nil)
	} else {
		t.finishLocked(err)
	}
	if t.err != nil {
		return Chunk{}, t.err
	}
	return Chunk{}, io.EOF
}

// finishLocked reaps the decoder and records its failure, if any
func (t *ffmpegTrackReader) finishLocked(readErr error) {
	t.done = true
	waitErr := t.cmd.Wait()
	cause := readErr
	if cause == nil {
		cause = waitErr
	}
	if cause != nil {
		t.err = errors.New(cause).
			Component(ComponentContainer).
			Category(errors.CategoryCommandExecution).
			Context("operation", "decode_track").
			Context("stderr", trimStderr(&t.stderr)).
			Build()
	}
}

// Close implements TrackReader
func (t *ffmpegTrackReader) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil
	}
	t.done = true
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.cmd.Wait()
	return nil
}
