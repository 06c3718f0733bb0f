package merge

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/container"
	"github.com/tphakala/trackmix/internal/conf"
)

const rate = 48000

func testSettings() *conf.Settings {
	return &conf.Settings{
		Audio: conf.AudioSettings{
			SampleRate: rate,
			BitRate:    "128k",
			Container:  "wav",
		},
		Remix: conf.RemixSettings{
			PollInterval: time.Millisecond,
			Classifier:   conf.ClassifierNone,
			Concurrency:  1,
			OutputName:   "segment",
		},
	}
}

func writeTone(t *testing.T, path string, frames int, level float32) {
	t.Helper()
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = level
	}
	w, err := container.NewWAVWriter(path, rate)
	require.NoError(t, err)
	_, err = w.AddTrack(audiocore.SystemAudio())
	require.NoError(t, err)
	require.NoError(t, w.StartSession())
	require.NoError(t, w.Append(0, samples, 0))
	require.NoError(t, w.MarkTrackFinished(0))
	<-w.Finalize()
	require.Equal(t, container.StatusCompleted, w.Status())
}

func trackLengths(t *testing.T, path string) []int {
	t.Helper()
	r, err := container.OpenWAV(path, 0)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	lengths := make([]int, r.Tracks())
	for i := range lengths {
		tr, err := r.Track(i)
		require.NoError(t, err)
		for {
			chunk, err := tr.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			lengths[i] += len(chunk.Samples)
		}
	}
	return lengths
}

func TestRunInfersSourcesWithoutManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "mic-usb.wav"), rate/10, 0.25)
	writeTone(t, filepath.Join(dir, "system.wav"), rate/10, 0.5)

	res, err := Run(context.Background(), testSettings(), dir, Flags{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, filepath.Join(dir, "segment.wav"), res.Path)
	assert.Equal(t, []int{rate / 10, rate / 10}, trackLengths(t, res.Path))
}

func TestRunUsesManifestOffsets(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	systemPath := filepath.Join(dir, "system.wav")
	micPath := filepath.Join(dir, "mic-usb.wav")
	writeTone(t, systemPath, rate/10, 0.5)
	writeTone(t, micPath, rate/10, 0.25)

	m := audiocore.Manifest{SegmentID: "seg"}
	m.Add(systemPath, audiocore.SourceTimingInfo{Source: audiocore.SystemAudio(), HasAudio: true, EndOffset: 100 * time.Millisecond})
	m.Add(micPath, audiocore.SourceTimingInfo{
		Source:      audiocore.Microphone("USB", "usb"),
		StartOffset: time.Second,
		EndOffset:   1100 * time.Millisecond,
		HasAudio:    true,
	})
	require.NoError(t, m.Save(dir))

	res, err := Run(context.Background(), testSettings(), dir, Flags{Output: "merged.wav", DeleteOriginals: true})
	require.NoError(t, err)
	assert.Equal(t, []int{rate + rate/10, rate + rate/10}, trackLengths(t, res.Path))

	for _, p := range []string{systemPath, micPath, filepath.Join(dir, audiocore.ManifestFileName)} {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "%s should be deleted", p)
	}
}

func TestRunExistingOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTone(t, filepath.Join(dir, "system.wav"), rate/10, 0.5)
	dest := filepath.Join(dir, "segment.wav")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0o600))

	_, err := Run(context.Background(), testSettings(), dir, Flags{})
	require.ErrorIs(t, err, ErrOutputExists)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	res, err := Run(context.Background(), testSettings(), dir, Flags{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []int{rate / 10}, trackLengths(t, res.Path))
}

func TestRunInvalidInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := Run(context.Background(), testSettings(), filepath.Join(dir, "missing"), Flags{})
	require.Error(t, err)

	_, err = Run(context.Background(), testSettings(), file, Flags{})
	require.Error(t, err)

	_, err = Run(context.Background(), testSettings(), dir, Flags{Output: "../escape"})
	require.Error(t, err)
}

func TestCommandExitStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    func(dir string) []string
		wantErr bool
		output  string
	}{
		{
			name:   "empty directory is nothing to do",
			args:   func(dir string) []string { return []string{dir} },
			output: "nothing to merge",
		},
		{
			name:    "missing directory",
			args:    func(dir string) []string { return []string{filepath.Join(dir, "missing")} },
			wantErr: true,
		},
		{
			name:    "missing argument",
			args:    func(string) []string { return []string{} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			cmd := Command(testSettings())
			cmd.SetArgs(tt.args(t.TempDir()))
			cmd.SetOut(&out)
			cmd.SetErr(io.Discard)

			err := cmd.Execute()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, out.String(), tt.output)
		})
	}
}
