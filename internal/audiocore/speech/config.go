package speech

import "time"

// SileroSampleRate is the input rate of the silero VAD model
const SileroSampleRate = 16000

// SileroConfig configures the silero classifier
type SileroConfig struct {
	ModelPath          string
	Threshold          float32
	MinSilenceDuration time.Duration
	SpeechPad          time.Duration
	MinSpeech          time.Duration // total speech required for SpeechDetected
	FFmpegPath         string        // used to decode compressed inputs
}

// speechTotal sums segment lengths. A segment with a zero end runs to the end
// of the input.
func speechTotal(segments [][2]float64, inputSeconds float64) time.Duration {
	var total float64
	for _, seg := range segments {
		end := seg[1]
		if end <= 0 || end > inputSeconds {
			end = inputSeconds
		}
		if end > seg[0] {
			total += end - seg[0]
		}
	}
	return time.Duration(total * float64(time.Second))
}
