package audiocore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/trackmix/internal/errors"
)

func TestManifestSaveLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	anchor := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	m := Manifest{SegmentID: "seg-1", Anchor: anchor}
	m.Add(filepath.Join(dir, "mic-usb_1.m4a"), SourceTimingInfo{
		Source:      Microphone("USB Mic", "usb:1"),
		StartOffset: 2 * time.Second,
		EndOffset:   90 * time.Second,
		HasAudio:    true,
	})
	m.Add(filepath.Join(dir, "system.m4a"), SourceTimingInfo{
		Source:    SystemAudio(),
		EndOffset: 95 * time.Second,
		HasAudio:  true,
	})
	require.NoError(t, m.Save(dir))

	raw, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "path: mic-usb_1.m4a", "paths inside dir are stored relative")
	assert.Contains(t, string(raw), "kind: microphone")

	loaded, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "seg-1", loaded.SegmentID)
	assert.True(t, anchor.Equal(loaded.Anchor))
	require.Len(t, loaded.Entries, 2)
	assert.Equal(t, m.Entries[0], loaded.Entries[0])
	assert.Equal(t, m.Entries[1], loaded.Entries[1])
}

func TestLoadManifestMissing(t *testing.T) {
	t.Parallel()

	_, err := LoadManifest(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestInferManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"mic-b.wav", "notes.txt", "segment.m4a", "system.wav", "mic-a.wav"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	m, err := InferManifest(dir)
	require.NoError(t, err)
	require.Len(t, m.Entries, 3)

	assert.True(t, m.Entries[0].Timing.Source.IsSystemAudio(), "system audio sorts first")
	assert.Equal(t, "mic:a", m.Entries[1].Timing.Source.Key())
	assert.Equal(t, "mic:b", m.Entries[2].Timing.Source.Key())
	for _, e := range m.Entries {
		assert.True(t, e.Timing.HasAudio)
		assert.Zero(t, e.Timing.StartOffset)
	}
}

func TestSourceTypeIdentity(t *testing.T) {
	t.Parallel()

	mic := Microphone("Built-in", "BuiltIn/Input:0")
	assert.Equal(t, "mic:BuiltIn/Input:0", mic.Key())
	assert.Equal(t, "mic-BuiltIn_Input_0.m4a", mic.FileName(FormatM4A))
	assert.Equal(t, "system.wav", SystemAudio().FileName(FormatWAV))
	assert.NotEqual(t, mic, Microphone("Built-in", "other"))
}

func TestFrameDurationConversion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10*time.Millisecond, FramesToDuration(480, 48000))
	assert.Equal(t, int64(96000), DurationToFrames(2*time.Second, 48000))
	assert.Zero(t, FramesToDuration(480, 0))

	buf := NewBuffer(make([]float32, 4800), 48000, time.Now())
	assert.Equal(t, 100*time.Millisecond, buf.Duration)
	assert.Equal(t, 4800, buf.Frames())
}

func TestEncoderSettingsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultEncoderSettings().Validate())
	require.NoError(t, DefaultEncoderSettings().WithFormat(FormatWAV).Validate())

	bad := DefaultEncoderSettings()
	bad.SampleRate = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	assert.Error(t, DefaultEncoderSettings().WithFormat("ogg").Validate())
	assert.Error(t, DefaultEncoderSettings().WithMaxDuration(-time.Second).Validate())
}
