// Package capture bridges push-style audio callbacks into encoders.
//
// Callbacks run on real-time threads owned by the OS or the audio engine, so
// an adapter's Push only copies the buffer and hands it to the adapter's
// serial queue. A single worker goroutine per adapter converts the audio and
// calls the current Sink.
package capture

import (
	"context"
	"time"

	"github.com/tphakala/trackmix/internal/audiocore"
)

// Sink consumes converted mono buffers. encoder.SourceEncoder implements it.
type Sink interface {
	Append(buf audiocore.Buffer)
}

// Pusher accepts raw interleaved float32 audio from a callback thread
type Pusher interface {
	Push(raw []float32, channels, sampleRate int, ts time.Time)
}

// DeviceInfo describes an input device
type DeviceInfo struct {
	ID        string // stable device UID
	Name      string
	IsDefault bool
}

// Source returns the microphone source type for the device
func (d DeviceInfo) Source() audiocore.SourceType {
	return audiocore.Microphone(d.Name, d.ID)
}

// Format is the hardware format an input tap delivers
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether f can be converted
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// TapCallback receives interleaved float32 frames. It is called on the
// audio engine's thread and must not block.
type TapCallback func(raw []float32, channels, sampleRate int, ts time.Time)

// InputTap is a hardware capture installed on one device
type InputTap interface {
	// Format returns the format the tap will deliver
	Format() Format
	// Start begins delivering buffers to the callback
	Start() error
	// Close stops delivery and releases the device. It is safe to call
	// more than once.
	Close() error
}

// DeviceProvider enumerates input devices and opens taps on them
type DeviceProvider interface {
	Devices(ctx context.Context) ([]DeviceInfo, error)
	OpenTap(ctx context.Context, device DeviceInfo, cb TapCallback) (InputTap, error)
}
