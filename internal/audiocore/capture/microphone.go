package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/processors"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
	"github.com/tphakala/trackmix/internal/observability/metrics"
)

// MicrophoneAdapter captures one input device through a DeviceProvider. It
// stays pinned to its device: Reconfigure reinstalls the tap on the same
// device after the OS reports a device change.
type MicrophoneAdapter struct {
	*adapter
	provider DeviceProvider
	device   DeviceInfo

	tapMu     sync.Mutex
	tap       InputTap // nil after a failed recovery until the next attempt succeeds
	startedAt time.Time
	stopped   bool

	recovering atomic.Bool
}

// NewMicrophoneAdapter creates an adapter for device feeding sink. A zero
// cfg.Gain uses audiocore.DefaultMicGain.
func NewMicrophoneAdapter(provider DeviceProvider, device DeviceInfo, sink Sink, cfg Config) (*MicrophoneAdapter, error) {
	if cfg.Gain == 0 {
		cfg.Gain = audiocore.DefaultMicGain
	}
	gain, err := processors.NewGainProcessor("gain:"+device.ID, cfg.Gain)
	if err != nil {
		return nil, err
	}
	return &MicrophoneAdapter{
		adapter:  newAdapter(device.Source(), sink, cfg, gain),
		provider: provider,
		device:   device,
	}, nil
}

// Device returns the pinned device
func (m *MicrophoneAdapter) Device() DeviceInfo { return m.device }

// StartedAt returns when the tap was first started
func (m *MicrophoneAdapter) StartedAt() time.Time {
	m.tapMu.Lock()
	defer m.tapMu.Unlock()
	return m.startedAt
}

// Start installs the tap and begins capture. An unusable hardware format
// fails with audiocore.ErrInvalidFormat and a failed installation with
// audiocore.ErrTapInstall.
func (m *MicrophoneAdapter) Start(ctx context.Context) error {
	m.tapMu.Lock()
	defer m.tapMu.Unlock()

	if m.tap != nil || !m.startedAt.IsZero() || m.stopped {
		return errors.Newf("microphone already started").
			Component(ComponentCapture).
			Category(errors.CategoryState).
			Context("device_id", m.device.ID).
			Build()
	}

	// the worker must run before the tap can deliver
	m.startWorker()

	tap, err := m.installTap(ctx)
	if err != nil {
		m.stopWorker()
		return err
	}
	m.tap = tap
	m.startedAt = time.Now()

	m.log.Info("microphone started",
		logger.String("device", m.device.Name),
		logger.Int("sample_rate", tap.Format().SampleRate),
		logger.Int("channels", tap.Format().Channels))
	return nil
}

// installTap opens and starts a tap on the pinned device. Panics raised by
// the platform layer are converted into ErrTapInstall.
func (m *MicrophoneAdapter) installTap(ctx context.Context) (tap InputTap, err error) {
	defer func() {
		if r := recover(); r != nil {
			if tap != nil {
				_ = tap.Close()
			}
			tap = nil
			err = m.tapError(fmt.Errorf("panic: %v", r), "install_tap")
		}
	}()

	tap, err = m.provider.OpenTap(ctx, m.device, m.Push)
	if err != nil {
		return nil, m.tapError(err, "open_tap")
	}

	format := tap.Format()
	if !format.Valid() {
		_ = tap.Close()
		return nil, errors.New(audiocore.ErrInvalidFormat).
			Component(ComponentCapture).
			Category(errors.CategoryValidation).
			Context("device_id", m.device.ID).
			Context("sample_rate", format.SampleRate).
			Context("channels", format.Channels).
			Build()
	}

	if err := tap.Start(); err != nil {
		_ = tap.Close()
		return nil, m.tapError(err, "start_tap")
	}
	return tap, nil
}

func (m *MicrophoneAdapter) tapError(cause error, operation string) error {
	return errors.New(errors.Join(audiocore.ErrTapInstall, cause)).
		Component(ComponentCapture).
		Category(errors.CategoryAudioSource).
		Context("device_id", m.device.ID).
		Context("device_name", m.device.Name).
		Context("operation", operation).
		Build()
}

// Reconfigure handles a device change notification by reinstalling the tap
// on the pinned device. The sink and its session are kept, so buffers after
// recovery continue on the same timeline. Overlapping calls fail with
// audiocore.ErrRecoveryInProgress. A failed attempt leaves the adapter
// running without a tap; a later call may still succeed.
func (m *MicrophoneAdapter) Reconfigure(ctx context.Context) error {
	if !m.recovering.CompareAndSwap(false, true) {
		return errors.New(audiocore.ErrRecoveryInProgress).
			Component(ComponentCapture).
			Category(errors.CategoryConflict).
			Context("device_id", m.device.ID).
			Build()
	}
	defer m.recovering.Store(false)

	m.tapMu.Lock()
	defer m.tapMu.Unlock()

	if m.stopped || m.startedAt.IsZero() || !m.Running() {
		return errors.New(audiocore.ErrSourceStopped).
			Component(ComponentCapture).
			Category(errors.CategoryState).
			Context("device_id", m.device.ID).
			Build()
	}

	if m.tap != nil {
		if err := m.tap.Close(); err != nil {
			m.log.Warn("closing tap before recovery failed", logger.Error(err))
		}
		m.tap = nil
	}

	tap, err := m.installTap(ctx)
	if err != nil {
		m.cfg.Metrics.RecordDeviceRecovery(m.device.ID, metrics.StatusError)
		m.log.Error("device recovery failed", logger.Error(err))
		return err
	}
	m.tap = tap
	m.cfg.Metrics.RecordDeviceRecovery(m.device.ID, metrics.StatusSuccess)
	m.log.Info("device recovered", logger.String("device", m.device.Name))
	return nil
}

// Recovering reports whether a Reconfigure call is running
func (m *MicrophoneAdapter) Recovering() bool {
	return m.recovering.Load()
}

// Stop removes the tap, processes queued buffers and stops the worker. The
// sink is not finished; that is the owner's job.
func (m *MicrophoneAdapter) Stop() {
	m.tapMu.Lock()
	tap := m.tap
	m.tap = nil
	m.stopped = true
	m.tapMu.Unlock()

	if tap != nil {
		if err := tap.Close(); err != nil {
			m.log.Warn("closing tap failed", logger.Error(err))
		}
	}
	m.stopWorker()
}
