package capture

import (
	"time"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/logger"
)

// Payload is one buffer delivered by the screen capture stream
type Payload struct {
	Samples    []float32 // interleaved
	Channels   int
	SampleRate int
	Timestamp  time.Time
}

// StreamRouter routes screen capture payloads to the adapter for their kind
type StreamRouter struct {
	System     Pusher // may be nil
	Microphone Pusher // may be nil
	log        logger.Logger
}

// NewStreamRouter creates a router. Either pusher may be nil.
func NewStreamRouter(system, microphone Pusher) *StreamRouter {
	return &StreamRouter{
		System:     system,
		Microphone: microphone,
		log:        GetLogger().With(logger.String("component", "stream_router")),
	}
}

// Dispatch hands payload to the matching adapter. Video is ignored here.
func (r *StreamRouter) Dispatch(kind audiocore.PayloadKind, payload Payload) {
	switch kind {
	case audiocore.PayloadSystemAudio:
		if r.System != nil {
			r.System.Push(payload.Samples, payload.Channels, payload.SampleRate, payload.Timestamp)
		}
	case audiocore.PayloadMicrophone:
		if r.Microphone != nil {
			r.Microphone.Push(payload.Samples, payload.Channels, payload.SampleRate, payload.Timestamp)
		}
	case audiocore.PayloadVideo:
		// video frames are handled outside the audio engine
	default:
		r.log.Warn("unknown payload kind", logger.String("kind", kind.String()))
	}
}
