// Package sources selects the microphone provider used by the recorder
package sources

import (
	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/audiocore/sources/malgo"
	"github.com/tphakala/trackmix/internal/errors"
)

// Provider kinds
const (
	KindMalgo = "malgo"
)

// Options holds provider settings common to every kind
type Options struct {
	SampleRate   int
	HardwareOnly bool
	OnDeviceStop func(deviceID string)
}

// NewProvider creates the device provider for kind. An empty kind selects
// malgo.
func NewProvider(kind string, opts Options) (capture.DeviceProvider, error) {
	switch kind {
	case "", KindMalgo, "soundcard":
		return malgo.NewProvider(malgo.Config{
			SampleRate:   opts.SampleRate,
			HardwareOnly: opts.HardwareOnly,
			OnDeviceStop: opts.OnDeviceStop,
		}), nil
	default:
		return nil, errors.Newf("unsupported device provider %q", kind).
			Component("sources").
			Category(errors.CategoryConfiguration).
			Context("provider", kind).
			Build()
	}
}
