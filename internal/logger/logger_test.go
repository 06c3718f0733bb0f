package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	return records
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn, time.UTC)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("shown too")

	records := decodeLines(t, buf)
	require.Len(t, records, 2)
	assert.Equal(t, "WARN", records[0]["level"])
	assert.Equal(t, "ERROR", records[1]["level"])
}

func TestTraceLevelRendering(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelTrace, time.UTC)
	log.Trace("deep")

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	assert.Equal(t, "TRACE", records[0]["level"])
}

func TestModuleAndFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).
		Module("capture").
		Module("mic").
		With(String("device", "usb-1"))

	log.Info("buffer dropped",
		Int("frames", 480),
		Duration("elapsed", 1500*time.Millisecond),
		Float64("rms", 0.123456),
		Error(errors.New("queue full")))

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "capture.mic", rec["module"])
	assert.Equal(t, "usb-1", rec["device"])
	assert.InDelta(t, 480, rec["frames"], 0)
	assert.Equal(t, "1.5s", rec["elapsed"])
	assert.InDelta(t, 0.123456, rec["rms"], 1e-9)
	assert.Equal(t, "queue full", rec["error"])
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	parent := NewSlogLogger(buf, LogLevelInfo, time.UTC).Module("remix")
	_ = parent.With(String("segment", "a"))
	parent.Info("plain")

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	_, has := records[0]["segment"]
	assert.False(t, has)
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)
	ctx := WithTraceID(context.Background(), "seg-42")

	log.WithContext(ctx).Info("traced")
	log.WithContext(context.Background()).Info("untraced")

	records := decodeLines(t, buf)
	require.Len(t, records, 2)
	assert.Equal(t, "seg-42", records[0][traceIDKey])
	_, has := records[1][traceIDKey]
	assert.False(t, has)
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mainPath := filepath.Join(dir, "logs", "main.log")
	remixPath := filepath.Join(dir, "logs", "remix.log")

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: mainPath, Level: "debug", MaxSize: 1},
		ModuleOutputs: map[string]ModuleOutput{
			"remix": {Enabled: true, FilePath: remixPath, Level: "info"},
		},
	})
	require.NoError(t, err)

	cl.Module("encoder").Debug("to main file")
	cl.Module("remix").Debug("filtered by module level")
	cl.Module("remix").Info("to module file")

	require.NoError(t, cl.Close())

	mainData, err := os.ReadFile(mainPath)
	require.NoError(t, err)
	assert.Contains(t, string(mainData), "to main file")
	assert.NotContains(t, string(mainData), "to module file")

	remixData, err := os.ReadFile(remixPath)
	require.NoError(t, err)
	assert.Contains(t, string(remixData), "to module file")
	assert.NotContains(t, string(remixData), "filtered by module level")
}

func TestNewCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestRotationConfigFromModuleOutput(t *testing.T) {
	t.Parallel()

	fo := &FileOutput{MaxSize: 10, MaxAge: 3, MaxRotatedFiles: 2, Compress: true}
	rc := RotationConfigFromModuleOutput(&ModuleOutput{MaxSize: 25}, fo)

	assert.Equal(t, RotationConfig{MaxSize: 25, MaxAge: 3, MaxBackups: 2, Compress: true}, rc)
	assert.True(t, rc.IsEnabled())
	assert.False(t, RotationConfigFromFileOutput(nil).IsEnabled())
}
