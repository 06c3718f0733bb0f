package malgo

import (
	"runtime"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

// Tap is a miniaudio capture device delivering float32 frames
type Tap struct {
	info       capture.DeviceInfo
	mctx       *malgo.AllocatedContext
	device     *malgo.Device
	cb         capture.TapCallback
	onStop     func(deviceID string)
	log        logger.Logger
	formatType malgo.FormatType
	format     capture.Format
	scratch    []float32 // reused by the data callback

	mu      sync.Mutex
	closed  bool
	closing bool
}

func openTap(device capture.DeviceInfo, cfg Config, cb capture.TapCallback, log logger.Logger) (*Tap, error) {
	mctx, err := initContext()
	if err != nil {
		return nil, err
	}
	release := func() {
		_ = mctx.Uninit()
		mctx.Free()
	}

	infos, err := captureDevices(mctx)
	if err != nil {
		release()
		return nil, err
	}
	info, err := findDevice(infos, device.ID)
	if err != nil {
		release()
		return nil, err
	}

	t := &Tap{
		info:   device,
		mctx:   mctx,
		cb:     cb,
		onStop: cfg.OnDeviceStop,
		log:    log.With(logger.String("device_id", device.ID)),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(max(cfg.Channels, 0))
	deviceConfig.Capture.DeviceID = info.ID.Pointer()
	deviceConfig.SampleRate = uint32(max(cfg.SampleRate, 0))
	deviceConfig.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: t.onData,
		Stop: t.onDeviceStop,
	})
	if err != nil {
		release()
		return nil, errors.New(err).
			Component(ComponentMalgo).
			Category(errors.CategoryAudio).
			Context("device_id", device.ID).
			Context("device_name", device.Name).
			Context("operation", "init_device").
			Build()
	}

	t.device = dev
	t.formatType = dev.CaptureFormat()
	t.format = capture.Format{
		SampleRate: int(dev.SampleRate()),
		Channels:   int(dev.CaptureChannels()),
	}
	if bytesPerSample(t.formatType) == 0 {
		// reported as an invalid format by the adapter
		t.format = capture.Format{}
	}
	return t, nil
}

// Format implements capture.InputTap
func (t *Tap) Format() capture.Format { return t.format }

// Start implements capture.InputTap
func (t *Tap) Start() error {
	if err := t.device.Start(); err != nil {
		return errors.New(err).
			Component(ComponentMalgo).
			Category(errors.CategoryAudio).
			Context("device_id", t.info.ID).
			Context("operation", "start_device").
			Build()
	}
	return nil
}

// Close implements capture.InputTap
func (t *Tap) Close() error {
	t.mu.Lock()
	if t.closed || t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.mu.Unlock()

	// Stop blocks until the data callback has returned
	_ = t.device.Stop()
	t.device.Uninit()
	_ = t.mctx.Uninit()
	t.mctx.Free()

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// onData runs on the miniaudio thread
func (t *Tap) onData(_, input []byte, frameCount uint32) {
	now := time.Now()
	samples, err := convertToFloat32(input, t.formatType, t.scratch)
	if err != nil || len(samples) == 0 {
		return
	}
	t.scratch = samples

	// stamp the first frame rather than the callback time
	ts := now.Add(-audiocore.FramesToDuration(int(frameCount), t.format.SampleRate))
	t.cb(samples, t.format.Channels, t.format.SampleRate, ts)
}

// onDeviceStop runs when miniaudio stops the device, including on Close
func (t *Tap) onDeviceStop() {
	t.mu.Lock()
	expected := t.closing || t.closed
	t.mu.Unlock()
	if expected {
		return
	}

	t.log.Warn("capture device stopped unexpectedly", logger.String("device", t.info.Name))
	if t.onStop != nil {
		go t.onStop(t.info.ID)
	}
}

func goos() string { return runtime.GOOS }
