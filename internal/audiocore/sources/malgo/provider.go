// Package malgo captures microphones through miniaudio. It implements
// capture.DeviceProvider for Linux (ALSA), Windows (WASAPI) and macOS
// (Core Audio).
package malgo

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/logger"
)

// ComponentMalgo identifies errors raised by the malgo provider
const ComponentMalgo = "malgo"

const (
	devicesCacheKey = "devices"
	// DefaultDeviceCacheTTL is how long an enumeration is reused
	DefaultDeviceCacheTTL = 5 * time.Second
)

// Config configures a Provider
type Config struct {
	// SampleRate requested from devices; 0 uses each device's native rate
	SampleRate int
	// Channels requested from devices; 0 uses each device's native layout
	Channels int
	// DeviceCacheTTL bounds how long Devices reuses an enumeration
	DeviceCacheTTL time.Duration
	// OnDeviceStop is called with the device ID when a device stops
	// without being closed, for example when it is unplugged
	OnDeviceStop func(deviceID string)
	// HardwareOnly hides ALSA plugin devices on Linux
	HardwareOnly bool
}

// Provider enumerates and opens capture devices
type Provider struct {
	cfg       Config
	cache     *gocache.Cache
	enumerate func() ([]capture.DeviceInfo, error)
	log       logger.Logger
}

// NewProvider creates a provider
func NewProvider(cfg Config) *Provider {
	if cfg.DeviceCacheTTL <= 0 {
		cfg.DeviceCacheTTL = DefaultDeviceCacheTTL
	}
	p := &Provider{
		cfg: cfg,
		// no janitor goroutine; expired entries are replaced on read
		cache: gocache.New(cfg.DeviceCacheTTL, 0),
		log:   GetLogger(),
	}
	p.enumerate = p.enumerateDevices
	return p
}

// GetLogger returns the malgo module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("malgo")
}

// Devices implements capture.DeviceProvider. Results are cached for
// DeviceCacheTTL since enumeration initializes a backend context.
func (p *Provider) Devices(ctx context.Context) ([]capture.DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cached, ok := p.cache.Get(devicesCacheKey); ok {
		if devices, ok := cached.([]capture.DeviceInfo); ok {
			return append([]capture.DeviceInfo(nil), devices...), nil
		}
	}

	devices, err := p.enumerate()
	if err != nil {
		return nil, err
	}
	p.cache.SetDefault(devicesCacheKey, devices)
	return append([]capture.DeviceInfo(nil), devices...), nil
}

// InvalidateDevices forces the next Devices call to enumerate again
func (p *Provider) InvalidateDevices() {
	p.cache.Delete(devicesCacheKey)
}

func (p *Provider) enumerateDevices() ([]capture.DeviceInfo, error) {
	mctx, err := initContext()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := captureDevices(mctx)
	if err != nil {
		return nil, err
	}

	devices := make([]capture.DeviceInfo, 0, len(infos))
	for i := range infos {
		d := toDeviceInfo(&infos[i])
		if p.cfg.HardwareOnly && !isHardwareDevice(goos(), d.ID) {
			continue
		}
		devices = append(devices, d)
	}
	p.log.Debug("enumerated capture devices", logger.Int("count", len(devices)))
	return devices, nil
}

// OpenTap implements capture.DeviceProvider. The returned tap is
// initialized but not started.
func (p *Provider) OpenTap(ctx context.Context, device capture.DeviceInfo, cb capture.TapCallback) (capture.InputTap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return openTap(device, p.cfg, cb, p.log)
}
