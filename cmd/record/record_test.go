package record

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/audiocore/capture/capturetest"
	"github.com/tphakala/trackmix/internal/audiocore/container"
	"github.com/tphakala/trackmix/internal/conf"
)

var (
	headset = capture.DeviceInfo{ID: "headset", Name: "Headset"}
	monitor = capture.DeviceInfo{ID: "monitor", Name: "Monitor of Speakers"}
)

func testSettings(root string) *conf.Settings {
	return &conf.Settings{
		Audio: conf.AudioSettings{
			SampleRate:        48000,
			BitRate:           "128k",
			Container:         "wav",
			MinActiveDuration: 50 * time.Millisecond,
			ExcludeDevices:    []string{"loopback"},
		},
		Remix: conf.RemixSettings{
			PollInterval: time.Millisecond,
			Classifier:   conf.ClassifierNone,
			Concurrency:  1,
			OutputName:   "segment",
		},
		Segment: conf.SegmentSettings{OutputDir: root},
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Parallel()

	base := testSettings("/data")
	got := apply(base, Flags{OutputDir: "/tmp/rec", Segment: time.Minute, Exclude: []string{"webcam"}})

	assert.Equal(t, "/tmp/rec", got.Segment.OutputDir)
	assert.Equal(t, time.Minute, got.Segment.Length)
	assert.Equal(t, []string{"loopback", "webcam"}, got.Audio.ExcludeDevices)

	assert.Equal(t, "/data", base.Segment.OutputDir, "base settings are not modified")
	assert.Equal(t, []string{"loopback"}, base.Audio.ExcludeDevices)

	assert.Equal(t, "/data", apply(base, Flags{}).Segment.OutputDir)
}

func TestSegmentDir(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	a := segmentDir("/rec", at)
	b := segmentDir("/rec", at)

	assert.Equal(t, "/rec", filepath.Dir(a))
	assert.True(t, strings.HasPrefix(filepath.Base(a), "20260314-092653-"), a)
	assert.NotEqual(t, a, b, "segments started in the same second get distinct directories")
}

func TestRunWithoutMicrophones(t *testing.T) {
	t.Parallel()

	r := NewRecorder(testSettings(t.TempDir()))
	require.NoError(t, r.Run(context.Background(), capturetest.NewProvider()))
}

func TestRunRemixesLastSegment(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	provider := capturetest.NewProvider(headset)
	r := NewRecorder(testSettings(root))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, provider) }()

	samples := make([]float32, 4800)
	for i := range samples {
		samples[i] = 0.2
	}
	require.Eventually(t, func() bool {
		tap := provider.LastTap(headset.ID)
		return tap != nil && tap.Emit(samples, time.Now())
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("recorder did not stop")
	}
	assert.True(t, provider.LastTap(headset.ID).Closed())

	merged, err := filepath.Glob(filepath.Join(root, "*", "segment.wav"))
	require.NoError(t, err)
	require.Len(t, merged, 1)

	reader, err := container.OpenWAV(merged[0], 0)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	assert.Equal(t, 1, reader.Tracks())
}

// peak returns the largest sample of a track
func peak(t *testing.T, reader container.Reader, track int) float32 {
	t.Helper()
	tr, err := reader.Track(track)
	require.NoError(t, err)
	var p float32
	for {
		chunk, err := tr.Next()
		if err == io.EOF {
			return p
		}
		require.NoError(t, err)
		for _, v := range chunk.Samples {
			p = max(p, v)
		}
	}
}

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestRunRecordsSystemAudioOnTrackZero(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	settings := testSettings(root)
	settings.Audio.SystemDevice = monitor.ID
	provider := capturetest.NewProvider(headset, monitor)
	r := NewRecorder(settings)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, provider) }()

	require.Eventually(t, func() bool {
		tap := provider.LastTap(monitor.ID)
		return tap != nil && tap.Emit(constant(4800, 0.3), time.Now())
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		tap := provider.LastTap(headset.ID)
		return tap != nil && tap.Emit(constant(4800, 0.2), time.Now())
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("recorder did not stop")
	}

	merged, err := filepath.Glob(filepath.Join(root, "*", "segment.wav"))
	require.NoError(t, err)
	require.Len(t, merged, 1)

	reader, err := container.OpenWAV(merged[0], 0)
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	require.Equal(t, 2, reader.Tracks())
	assert.InDelta(t, 0.3, peak(t, reader, 0), 1e-3, "system audio is not gained")
	assert.InDelta(t, 0.8, peak(t, reader, 1), 1e-3, "microphone gain applies")
}
