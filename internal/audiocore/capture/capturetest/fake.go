// Package capturetest provides an in-memory DeviceProvider for tests.
package capturetest

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/errors"
)

// Tap is an InputTap driven by the test through Emit
type Tap struct {
	mu       sync.Mutex
	device   capture.DeviceInfo
	format   capture.Format
	cb       capture.TapCallback
	startErr error
	started  bool
	closed   bool
}

// Format implements capture.InputTap
func (t *Tap) Format() capture.Format {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format
}

// Start implements capture.InputTap
func (t *Tap) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startErr != nil {
		return t.startErr
	}
	t.started = true
	return nil
}

// Close implements capture.InputTap
func (t *Tap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Emit delivers interleaved samples in the tap's format. It returns false
// when the tap is not delivering.
func (t *Tap) Emit(raw []float32, ts time.Time) bool {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return false
	}
	cb, format := t.cb, t.format
	t.mu.Unlock()

	cb(raw, format.Channels, format.SampleRate, ts)
	return true
}

// Closed reports whether Close was called
func (t *Tap) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Device returns the device the tap was opened on
func (t *Tap) Device() capture.DeviceInfo { return t.device }

// Provider is a capture.DeviceProvider over a fixed device list
type Provider struct {
	mu          sync.Mutex
	devices     []capture.DeviceInfo
	devicesErr  error
	format      capture.Format
	openErrs    map[string]error
	panicOnOpen bool
	startErr    error
	gate        chan struct{}
	taps        []*Tap
}

// NewProvider returns a provider whose taps deliver mono 48 kHz
func NewProvider(devices ...capture.DeviceInfo) *Provider {
	return &Provider{
		devices:  devices,
		format:   capture.Format{SampleRate: 48000, Channels: 1},
		openErrs: make(map[string]error),
	}
}

// SetFormat sets the format of taps opened from now on
func (p *Provider) SetFormat(f capture.Format) {
	p.mu.Lock()
	p.format = f
	p.mu.Unlock()
}

// SetDevicesError makes Devices fail
func (p *Provider) SetDevicesError(err error) {
	p.mu.Lock()
	p.devicesErr = err
	p.mu.Unlock()
}

// SetOpenError makes OpenTap fail for deviceID
func (p *Provider) SetOpenError(deviceID string, err error) {
	p.mu.Lock()
	p.openErrs[deviceID] = err
	p.mu.Unlock()
}

// SetPanicOnOpen makes OpenTap panic
func (p *Provider) SetPanicOnOpen(v bool) {
	p.mu.Lock()
	p.panicOnOpen = v
	p.mu.Unlock()
}

// SetStartError makes Start fail on taps opened from now on
func (p *Provider) SetStartError(err error) {
	p.mu.Lock()
	p.startErr = err
	p.mu.Unlock()
}

// SetGate makes OpenTap wait until gate is closed
func (p *Provider) SetGate(gate chan struct{}) {
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()
}

// Devices implements capture.DeviceProvider
func (p *Provider) Devices(context.Context) ([]capture.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.devicesErr != nil {
		return nil, p.devicesErr
	}
	return append([]capture.DeviceInfo(nil), p.devices...), nil
}

// OpenTap implements capture.DeviceProvider
func (p *Provider) OpenTap(ctx context.Context, device capture.DeviceInfo, cb capture.TapCallback) (capture.InputTap, error) {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.panicOnOpen {
		panic("device vanished during tap install")
	}
	if err := p.openErrs[device.ID]; err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, errors.NewStd("nil callback")
	}

	tap := &Tap{device: device, format: p.format, cb: cb, startErr: p.startErr}
	p.taps = append(p.taps, tap)
	return tap, nil
}

// Taps returns every tap opened on deviceID, oldest first
func (p *Provider) Taps(deviceID string) []*Tap {
	p.mu.Lock()
	defer p.mu.Unlock()
	var taps []*Tap
	for _, t := range p.taps {
		if t.device.ID == deviceID {
			taps = append(taps, t)
		}
	}
	return taps
}

// LastTap returns the newest tap on deviceID, or nil
func (p *Provider) LastTap(deviceID string) *Tap {
	taps := p.Taps(deviceID)
	if len(taps) == 0 {
		return nil
	}
	return taps[len(taps)-1]
}
