package container

import (
	"time"

	"github.com/tphakala/trackmix/internal/audiocore"
)

// jitterTolerance is how far a buffer's timestamp may drift from the track's
// write position before silence is inserted or samples are trimmed. Host
// clock timestamps wobble by a fraction of a buffer period.
const jitterTolerance = 2 * time.Millisecond

// trackClock tracks how many frames have been placed on a track
type trackClock struct {
	rate      int
	written   int64
	tolerance int64
}

func newTrackClock(rate int) trackClock {
	return trackClock{
		rate:      rate,
		tolerance: audiocore.DurationToFrames(jitterTolerance, rate),
	}
}

// place returns the number of silent frames to insert before samples and the
// part of samples that is not already covered by earlier writes.
func (c *trackClock) place(samples []float32, pts time.Duration) (pad int64, keep []float32) {
	target := audiocore.DurationToFrames(pts, c.rate)
	diff := target - c.written

	switch {
	case diff > c.tolerance:
		pad = diff
	case diff < -c.tolerance:
		overlap := -diff
		if overlap >= int64(len(samples)) {
			return 0, nil
		}
		samples = samples[overlap:]
	}

	c.written += pad + int64(len(samples))
	return pad, samples
}

// position returns the timeline position after the last placed frame
func (c *trackClock) position() time.Duration {
	return audiocore.FramesToDuration(int(c.written), c.rate)
}
