package activity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestTrackerAccumulatesLoudBuffers(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0.01, 500*time.Millisecond)

	// 0.1 s of silence, then 6 loud buffers of 0.1 s
	tr.Process(constant(4800, 0), 4800, 100*time.Millisecond)
	assert.False(t, tr.HadMeaningfulAudio())

	for range 6 {
		tr.Process(constant(4800, 0.1), 4800, 100*time.Millisecond)
	}

	assert.Equal(t, 600*time.Millisecond, tr.ActiveDuration())
	assert.True(t, tr.HadMeaningfulAudio())

	meaningful, active := tr.Snapshot()
	assert.True(t, meaningful)
	assert.Equal(t, 600*time.Millisecond, active)
}

func TestTrackerThresholdIsExclusive(t *testing.T) {
	t.Parallel()

	// RMS of a constant signal equals its magnitude
	tr := NewTracker(0.25, 0)
	tr.Process(constant(100, 0.25), 100, time.Second)
	assert.Zero(t, tr.ActiveDuration())

	tr.Process(constant(100, -0.5), 100, time.Second)
	assert.Equal(t, time.Second, tr.ActiveDuration())
}

func TestTrackerZeroLengthIsNoop(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0, 0)
	tr.Process(nil, 0, time.Second)
	tr.Process(constant(10, 1), 0, time.Second)
	assert.Zero(t, tr.ActiveDuration())

	// frames beyond the slice are clamped
	tr.Process(constant(10, 1), 50, time.Second)
	assert.Equal(t, time.Second, tr.ActiveDuration())
}

func TestTrackerOnlyMeasuresLeadingFrames(t *testing.T) {
	t.Parallel()

	samples := append(constant(100, 0), constant(100, 1)...)
	tr := NewTracker(0.01, 0)
	tr.Process(samples, 100, time.Second)
	assert.Zero(t, tr.ActiveDuration())
}

func TestTrackerReset(t *testing.T) {
	t.Parallel()

	tr := NewDefaultTracker()
	tr.Process(constant(48000, 0.5), 48000, time.Second)
	assert.True(t, tr.HadMeaningfulAudio())

	tr.Reset()
	assert.Zero(t, tr.ActiveDuration())
	assert.False(t, tr.HadMeaningfulAudio())
}

func TestTrackerConcurrentProcess(t *testing.T) {
	t.Parallel()

	tr := NewTracker(0.01, time.Second)
	loud := constant(480, 0.2)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				tr.Process(loud, len(loud), 10*time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8*time.Second, tr.ActiveDuration())
}
