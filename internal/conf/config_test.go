package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	path := writeConfig(t, string(DefaultConfig()))

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, settings.ConfigFile)
	assert.Equal(t, audiocore.DefaultSampleRate, settings.Audio.SampleRate)
	assert.InDelta(t, audiocore.DefaultMicGain, settings.Audio.MicGain, 1e-9)
	assert.InDelta(t, audiocore.DefaultSilenceThreshold, settings.Audio.SilenceThreshold, 1e-9)
	assert.Equal(t, audiocore.DefaultMinActiveDuration, settings.Audio.MinActiveDuration)
	assert.Equal(t, audiocore.DefaultMaxMicrophones, settings.Audio.MaxMicrophones)
	assert.Equal(t, time.Millisecond, settings.Remix.PollInterval)
	assert.Equal(t, ClassifierNone, settings.Remix.Classifier)
	assert.Equal(t, 30*time.Second, settings.Remix.ClassifierTimeout)
	assert.Equal(t, 5*time.Minute, settings.Segment.Length)
	assert.Empty(t, settings.Metrics.Listen)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)

	assert.Same(t, settings, GetSettings())
}

func TestLoadOverridesAndEncoder(t *testing.T) {
	path := writeConfig(t, `
audio:
  container: wav
  bitrate: 96k
  maxduration: 90s
  micgain: 2.5
`)

	settings, err := Load(path)
	require.NoError(t, err)

	enc := settings.Encoder()
	assert.Equal(t, audiocore.FormatWAV, enc.Format)
	assert.Equal(t, "96k", enc.BitRate)
	assert.Equal(t, 90*time.Second, enc.MaxDuration)
	assert.Equal(t, audiocore.DefaultSampleRate, enc.SampleRate)
	assert.InDelta(t, 2.5, settings.Audio.MicGain, 1e-9)
	// keys absent from the file keep their defaults
	assert.Equal(t, audiocore.DefaultQueueSize, settings.Audio.QueueSize)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("TRACKMIX_AUDIO_MAXMICROPHONES", "2")
	t.Setenv("TRACKMIX_SEGMENT_LENGTH", "30s")

	settings, err := Load(writeConfig(t, "debug: true\n"))
	require.NoError(t, err)

	assert.True(t, settings.Debug)
	assert.Equal(t, 2, settings.Audio.MaxMicrophones)
	assert.Equal(t, 30*time.Second, settings.Segment.Length)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		s, err := Load(writeConfig(t, string(DefaultConfig())))
		require.NoError(t, err)
		copied := *s
		return &copied
	}

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"zero sample rate", func(s *Settings) { s.Audio.SampleRate = 0 }, "audio.samplerate"},
		{"negative gain", func(s *Settings) { s.Audio.MicGain = -1 }, "audio.micgain"},
		{"threshold above one", func(s *Settings) { s.Audio.SilenceThreshold = 1.5 }, "audio.silencethreshold"},
		{"no microphones", func(s *Settings) { s.Audio.MaxMicrophones = 0 }, "audio.maxmicrophones"},
		{"unknown container", func(s *Settings) { s.Audio.Container = "ogg" }, "audio.container"},
		{"unknown classifier", func(s *Settings) { s.Remix.Classifier = "whisper" }, "remix.classifier"},
		{"output name with separator", func(s *Settings) { s.Remix.OutputName = "a/b" }, "remix.outputname"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Len(t, ve.Errors, 1)
		})
	}

	require.NoError(t, ValidateSettings(valid()))
}

func TestMoveFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "a.wav")
	dst := filepath.Join(dir, "rejected", "a.wav")
	require.NoError(t, os.WriteFile(src, []byte("pcm"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))

	require.NoError(t, MoveFile(src, dst))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "pcm", string(data))
}

func TestValidateToolPath(t *testing.T) {
	t.Parallel()

	tool := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\n"), 0o700))

	got, err := ValidateToolPath(tool, "fake-ffmpeg")
	require.NoError(t, err)
	assert.Equal(t, tool, got)

	_, err = ValidateToolPath("", "trackmix-no-such-tool")
	require.Error(t, err)
}

func TestWriteDefaultConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))
	require.Error(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), data)
}
