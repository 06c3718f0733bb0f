// Package activity measures how much of a source's audio is above a silence
// threshold, so that microphones nobody spoke into can be dropped.
package activity

import (
	"sync"
	"time"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/dsp"
)

// Tracker accumulates the duration of buffers whose RMS level exceeds a
// threshold. It is safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	totalActive time.Duration
	threshold   float64
	minActive   time.Duration
}

// NewTracker returns a tracker with the given RMS threshold and the active
// duration required for HadMeaningfulAudio.
func NewTracker(threshold float64, minActive time.Duration) *Tracker {
	return &Tracker{
		threshold: threshold,
		minActive: minActive,
	}
}

// NewDefaultTracker returns a tracker using the default threshold (about -40 dBFS)
// and minimum active duration.
func NewDefaultTracker() *Tracker {
	return NewTracker(audiocore.DefaultSilenceThreshold, audiocore.DefaultMinActiveDuration)
}

// Process measures the first frames samples and adds bufDur to the active
// total when their RMS is above the threshold.
func (t *Tracker) Process(samples []float32, frames int, bufDur time.Duration) {
	if frames > len(samples) {
		frames = len(samples)
	}
	if frames <= 0 {
		return
	}

	rms := dsp.RMS(samples[:frames])

	t.mu.Lock()
	defer t.mu.Unlock()
	if rms > t.threshold {
		t.totalActive += bufDur
	}
}

// ProcessBuffer is Process for a whole buffer
func (t *Tracker) ProcessBuffer(buf *audiocore.Buffer) {
	t.Process(buf.Samples, buf.Frames(), buf.Duration)
}

// HadMeaningfulAudio reports whether the active total reached the minimum
func (t *Tracker) HadMeaningfulAudio() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalActive >= t.minActive
}

// ActiveDuration returns the accumulated active duration
func (t *Tracker) ActiveDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalActive
}

// Snapshot returns HadMeaningfulAudio and ActiveDuration under one lock
func (t *Tracker) Snapshot() (meaningful bool, active time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalActive >= t.minActive, t.totalActive
}

// Reset zeroes the active total
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.totalActive = 0
	t.mu.Unlock()
}
