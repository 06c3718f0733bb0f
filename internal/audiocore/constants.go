package audiocore

import "time"

const (
	// DefaultSampleRate is the sample rate of every encoded track
	DefaultSampleRate = 48000

	// DefaultBitRate is the AAC bit rate for production containers
	DefaultBitRate = "128k"

	// DefaultMicGain compensates for capture with automatic gain control disabled
	DefaultMicGain = 4.0

	// DefaultSilenceThreshold is the linear RMS level (about -40 dBFS) above
	// which a buffer counts as active
	DefaultSilenceThreshold = 0.01

	// DefaultMinActiveDuration is how much active audio a source needs to be kept
	DefaultMinActiveDuration = 500 * time.Millisecond

	// DefaultMaxMicrophones caps concurrently recorded microphones
	DefaultMaxMicrophones = 4

	// DefaultQueueSize is the per-source hand-off queue depth, in buffers
	DefaultQueueSize = 256

	// DefaultPollInterval is the remix pump back-off when no track made progress
	DefaultPollInterval = time.Millisecond

	// DefaultClassifierTimeout bounds a single speech classification
	DefaultClassifierTimeout = 30 * time.Second

	// SystemTrackIndex is reserved for system audio in multi-track output
	SystemTrackIndex = 0
)
