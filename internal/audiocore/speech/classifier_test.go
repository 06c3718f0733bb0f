package speech

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/container"
)

func TestResultKeepIsFailOpen(t *testing.T) {
	t.Parallel()

	assert.True(t, Detected("voice").Keep())
	assert.True(t, Unknown("broken").Keep())
	assert.False(t, Silent("nothing").Keep())
}

func TestDisabledClassifier(t *testing.T) {
	t.Parallel()

	res := Disabled{}.Classify(context.Background(), "whatever.m4a")
	assert.Equal(t, Unavailable, res.Verdict)
	assert.Equal(t, "classifier disabled", res.Reason)
	assert.True(t, res.Keep())
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	slow := ClassifierFunc(func(ctx context.Context, _ string) Result {
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return Silent("too late")
	})
	fast := ClassifierFunc(func(context.Context, string) Result {
		return Silent("quiet")
	})

	t.Run("timeout yields unavailable", func(t *testing.T) {
		t.Parallel()
		start := time.Now()
		res := WithTimeout(slow, 20*time.Millisecond).Classify(context.Background(), "x")
		assert.Equal(t, Unavailable, res.Verdict)
		assert.True(t, res.Keep())
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("cancellation yields unavailable", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res := WithTimeout(slow, time.Minute).Classify(ctx, "x")
		assert.Equal(t, Unavailable, res.Verdict)
	})

	t.Run("fast result passes through", func(t *testing.T) {
		t.Parallel()
		res := WithTimeout(fast, time.Second).Classify(context.Background(), "x")
		assert.Equal(t, NoSpeech, res.Verdict)
	})

	t.Run("zero timeout is unbounded", func(t *testing.T) {
		t.Parallel()
		_, wrapped := WithTimeout(fast, 0).(*timeoutClassifier)
		assert.False(t, wrapped)
	})
}

func TestSpeechTotal(t *testing.T) {
	t.Parallel()

	segs := [][2]float64{{0.5, 1.0}, {2.0, 0}}
	assert.Equal(t, 1500*time.Millisecond, speechTotal(segs, 3.0))
	assert.Zero(t, speechTotal(nil, 3.0))
}

func TestLoadMono(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mic.wav")
	w, err := container.NewWAVWriter(path, 48000)
	require.NoError(t, err)
	track, err := w.AddTrack(audiocore.Microphone("m", "m"))
	require.NoError(t, err)
	require.NoError(t, w.StartSession())
	require.NoError(t, w.Append(track, make([]float32, 48000), 0))
	<-w.Finalize()
	require.Equal(t, container.StatusCompleted, w.Status())

	samples, err := LoadMono(context.Background(), path, SileroSampleRate, "")
	require.NoError(t, err)
	assert.Len(t, samples, SileroSampleRate)
}
