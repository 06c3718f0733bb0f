package container

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/trackmix/internal/audiocore"
)

const testRate = 48000

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("finalize did not complete")
	}
}

func readAll(t *testing.T, r Reader, track int) []float32 {
	t.Helper()
	tr, err := r.Track(track)
	require.NoError(t, err)
	defer func() { _ = tr.Close() }()

	var out []float32
	for {
		chunk, err := tr.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		assert.Equal(t, audiocore.FramesToDuration(len(out), r.SampleRate()), chunk.PTS)
		out = append(out, chunk.Samples...)
	}
}

func TestTrackClockPlacement(t *testing.T) {
	t.Parallel()

	c := newTrackClock(1000)

	pad, keep := c.place(constant(100, 1), 0)
	assert.Zero(t, pad)
	assert.Len(t, keep, 100)

	// within jitter tolerance: written contiguously
	pad, keep = c.place(constant(100, 1), 101*time.Millisecond)
	assert.Zero(t, pad)
	assert.Len(t, keep, 100)

	// gap: silence fills up to the timestamp
	pad, keep = c.place(constant(100, 1), 500*time.Millisecond)
	assert.Equal(t, int64(300), pad)
	assert.Len(t, keep, 100)
	assert.Equal(t, 600*time.Millisecond, c.position())

	// overlap: the covered prefix is trimmed
	pad, keep = c.place(constant(100, 1), 550*time.Millisecond)
	assert.Zero(t, pad)
	assert.Len(t, keep, 50)

	// fully covered buffers are dropped
	pad, keep = c.place(constant(10, 1), 100*time.Millisecond)
	assert.Zero(t, pad)
	assert.Empty(t, keep)
	assert.Equal(t, 650*time.Millisecond, c.position())
}

func TestWAVWriterRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.wav")
	w, err := Create(path, audiocore.DefaultEncoderSettings().WithFormat(audiocore.FormatWAV))
	require.NoError(t, err)

	system, err := w.AddTrack(audiocore.SystemAudio())
	require.NoError(t, err)
	mic, err := w.AddTrack(audiocore.Microphone("USB", "usb-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, system)
	assert.Equal(t, 1, mic)

	assert.False(t, w.ReadyForMoreData(system), "not ready before the session starts")
	require.NoError(t, w.StartSession())
	require.Error(t, w.StartSession())
	assert.Equal(t, StatusWriting, w.Status())
	assert.True(t, w.ReadyForMoreData(system))

	require.NoError(t, w.Append(system, constant(4800, 0.5), 0))
	// the microphone starts 200 ms into the session
	require.NoError(t, w.Append(mic, constant(4800, -0.25), 200*time.Millisecond))
	require.NoError(t, w.MarkTrackFinished(mic))
	assert.False(t, w.ReadyForMoreData(mic))
	require.Error(t, w.Append(mic, constant(10, 0), time.Second))
	w.EndSession(200 * time.Millisecond)

	done := w.Finalize()
	assert.Equal(t, done, w.Finalize(), "finalize is idempotent")
	waitDone(t, done)
	require.Equal(t, StatusCompleted, w.Status(), "err: %v", w.Err())

	r, err := Open(context.Background(), path, audiocore.DefaultEncoderSettings())
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	require.Equal(t, 2, r.Tracks())
	assert.Equal(t, testRate, r.SampleRate())

	sys := readAll(t, r, system)
	mc := readAll(t, r, mic)
	require.Len(t, sys, 14400)
	require.Len(t, mc, 14400)

	assert.InDelta(t, 0.5, sys[0], 1e-3)
	assert.InDelta(t, 0.5, sys[4799], 1e-3)
	assert.Zero(t, sys[4800], "system track is padded to the longest track")

	assert.Zero(t, mc[9599], "microphone is silent before its offset")
	assert.InDelta(t, -0.25, mc[9600], 1e-3)
	assert.InDelta(t, -0.25, mc[14399], 1e-3)

	_, err = w.AddTrack(audiocore.SystemAudio())
	require.ErrorIs(t, err, audiocore.ErrWriterNotReady)
}

func TestWAVWriterAcceptsLateTracks(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "late.wav")
	w, err := NewWAVWriter(path, testRate)
	require.NoError(t, err)

	first, err := w.AddTrack(audiocore.SystemAudio())
	require.NoError(t, err)
	require.NoError(t, w.StartSession())
	require.NoError(t, w.Append(first, constant(480, 0.1), 0))

	late, err := w.AddTrack(audiocore.Microphone("Late", "late"))
	require.NoError(t, err)
	require.NoError(t, w.Append(late, constant(480, 0.1), 10*time.Millisecond))

	waitDone(t, w.Finalize())
	require.Equal(t, StatusCompleted, w.Status())

	r, err := OpenWAV(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Tracks())
	assert.Len(t, readAll(t, r, late), 960)
}

func TestWAVWriterCancelRemovesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cancel.wav")
	w, err := NewWAVWriter(path, testRate)
	require.NoError(t, err)
	_, err = w.AddTrack(audiocore.SystemAudio())
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "file is created at construction")

	w.Cancel()
	w.Cancel()
	assert.Equal(t, StatusCancelled, w.Status())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	waitDone(t, w.Finalize())
	assert.Equal(t, StatusCancelled, w.Status())
}

func TestWAVWriterFailsWithoutTracks(t *testing.T) {
	t.Parallel()

	w, err := NewWAVWriter(filepath.Join(t.TempDir(), "empty.wav"), testRate)
	require.NoError(t, err)
	require.NoError(t, w.StartSession())

	waitDone(t, w.Finalize())
	assert.Equal(t, StatusFailed, w.Status())
	require.ErrorIs(t, w.Err(), audiocore.ErrNoTracksAttached)
}

func TestWAVWriterCreateErrorSurfacesEarly(t *testing.T) {
	t.Parallel()

	_, err := NewWAVWriter(filepath.Join(t.TempDir(), "missing", "dir", "x.wav"), testRate)
	require.Error(t, err)
}

func TestOpenWAVResamples(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "16k.wav")
	w, err := NewWAVWriter(path, 16000)
	require.NoError(t, err)
	track, err := w.AddTrack(audiocore.SystemAudio())
	require.NoError(t, err)
	require.NoError(t, w.StartSession())
	require.NoError(t, w.Append(track, constant(16000, 0.2), 0))
	waitDone(t, w.Finalize())
	require.Equal(t, StatusCompleted, w.Status())

	r, err := OpenWAV(path, testRate)
	require.NoError(t, err)
	assert.Equal(t, testRate, r.SampleRate())
	samples := readAll(t, r, 0)
	assert.Len(t, samples, testRate)
	assert.InDelta(t, 0.2, samples[testRate/2], 1e-3)
}

func TestOpenRejectsInvalidFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.wav")
	require.NoError(t, os.WriteFile(bogus, []byte("not a riff file at all"), 0o600))
	_, err := OpenWAV(bogus, 0)
	require.ErrorIs(t, err, audiocore.ErrInvalidFormat)

	bogusFlac := filepath.Join(dir, "bogus.flac")
	require.NoError(t, os.WriteFile(bogusFlac, []byte("nope"), 0o600))
	_, err = OpenFLAC(bogusFlac, 0)
	require.Error(t, err)

	_, err = BackendFor(filepath.Join(dir, "x.ogg"), audiocore.DefaultEncoderSettings())
	require.Error(t, err)

	_, err = FLACBackend{}.Create(filepath.Join(dir, "x.flac"), audiocore.DefaultEncoderSettings())
	require.Error(t, err)
}

func TestBackendFor(t *testing.T) {
	t.Parallel()

	settings := audiocore.DefaultEncoderSettings()
	tests := map[string]string{
		"a.wav":  "wav",
		"a.WAV":  "wav",
		"a.flac": "flac",
		"a.m4a":  "ffmpeg",
		"a.mp4":  "ffmpeg",
	}
	for path, want := range tests {
		b, err := BackendFor(path, settings)
		require.NoError(t, err, path)
		assert.Equal(t, want, b.Name(), path)
	}

	var backend Backend = NewFFmpegBackend("")
	_, ok := backend.(TrackSelector)
	assert.True(t, ok, "ffmpeg selects tracks by stream copy")
	_, ok = Backend(WAVBackend{}).(TrackSelector)
	assert.False(t, ok)
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available")
	}
}

func TestFFmpegRoundTrip(t *testing.T) {
	t.Parallel()
	requireFFmpeg(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "out.m4a")
	settings := audiocore.DefaultEncoderSettings()

	w, err := Create(path, settings)
	require.NoError(t, err)
	system, err := w.AddTrack(audiocore.SystemAudio())
	require.NoError(t, err)
	mic, err := w.AddTrack(audiocore.Microphone("USB", "usb-1"))
	require.NoError(t, err)
	require.NoError(t, w.StartSession())

	_, err = w.AddTrack(audiocore.Microphone("Late", "late"))
	require.ErrorIs(t, err, audiocore.ErrWriterNotReady)

	for i := range 10 {
		pts := time.Duration(i) * 100 * time.Millisecond
		require.True(t, w.ReadyForMoreData(system))
		require.NoError(t, w.Append(system, constant(4800, 0.3), pts))
		require.NoError(t, w.Append(mic, constant(4800, 0.1), pts))
	}
	waitDone(t, w.Finalize())
	require.Equal(t, StatusCompleted, w.Status(), "err: %v", w.Err())

	r, err := Open(context.Background(), path, settings)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	require.Equal(t, 2, r.Tracks())

	samples := readAll(t, r, mic)
	// AAC priming and padding shift the length slightly
	assert.InDelta(t, testRate, len(samples), 4096)

	// drop the microphone track by stream copy
	selected := filepath.Join(dir, "selected.m4a")
	backend := NewFFmpegBackend("")
	require.NoError(t, backend.SelectTracks(context.Background(), path, selected, []int{system}))

	r2, err := backend.Open(context.Background(), selected, testRate)
	require.NoError(t, err)
	defer func() { _ = r2.Close() }()
	assert.Equal(t, 1, r2.Tracks())
}

func TestFFmpegCancel(t *testing.T) {
	t.Parallel()
	requireFFmpeg(t)

	path := filepath.Join(t.TempDir(), "cancel.m4a")
	w, err := Create(path, audiocore.DefaultEncoderSettings())
	require.NoError(t, err)
	track, err := w.AddTrack(audiocore.SystemAudio())
	require.NoError(t, err)
	require.NoError(t, w.StartSession())
	require.NoError(t, w.Append(track, constant(4800, 0.3), 0))

	w.Cancel()
	assert.Equal(t, StatusCancelled, w.Status())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	waitDone(t, w.Finalize())
}
