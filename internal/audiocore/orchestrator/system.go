package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/activity"
	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/audiocore/encoder"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
	"github.com/tphakala/trackmix/internal/observability/metrics"
)

// systemSession records system audio captured from a loopback or monitor
// input device. Device callbacks are dispatched through a StreamRouter as
// system audio payloads, so the adapter sees what a screen capture stream
// would deliver.
type systemSession struct {
	device  capture.DeviceInfo
	adapter *capture.SystemAudioAdapter
	router  *capture.StreamRouter
	tracker *activity.Tracker
	encoder *encoder.SourceEncoder
	since   time.Time
	log     logger.Logger

	tapMu   sync.Mutex
	tap     capture.InputTap
	stopped bool
}

func (o *Orchestrator) startSystem(ctx context.Context, device capture.DeviceInfo) (*systemSession, error) {
	tracker := activity.NewTracker(o.cfg.SilenceThreshold, o.cfg.MinActiveDuration)
	enc, err := o.newEncoder(o.dir, audiocore.SystemAudio(), o.anchor, tracker)
	if err != nil {
		return nil, err
	}

	adapter := capture.NewSystemAudioAdapter(enc, o.cfg.Capture)
	s := &systemSession{
		device:  device,
		adapter: adapter,
		router:  capture.NewStreamRouter(adapter, nil),
		tracker: tracker,
		encoder: enc,
		since:   time.Now(),
		log:     o.log.With(logger.String("device_id", device.ID)),
	}

	adapter.Start()
	if err := s.install(ctx, o.provider); err != nil {
		adapter.Stop()
		enc.Finish()
		return nil, err
	}
	return s, nil
}

func (s *systemSession) deliver(raw []float32, channels, sampleRate int, ts time.Time) {
	s.router.Dispatch(audiocore.PayloadSystemAudio, capture.Payload{
		Samples:    raw,
		Channels:   channels,
		SampleRate: sampleRate,
		Timestamp:  ts,
	})
}

// install replaces the current tap, if any, with a new one on the device
func (s *systemSession) install(ctx context.Context, provider capture.DeviceProvider) (err error) {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()

	if s.stopped {
		return errors.New(audiocore.ErrSourceStopped).
			Component(ComponentOrchestrator).
			Category(errors.CategoryState).
			Context("device_id", s.device.ID).
			Build()
	}
	if s.tap != nil {
		if err := s.tap.Close(); err != nil {
			s.log.Warn("closing system audio tap failed", logger.Error(err))
		}
		s.tap = nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = s.tapError(fmt.Errorf("panic: %v", r), "install_tap")
		}
	}()

	tap, err := provider.OpenTap(ctx, s.device, s.deliver)
	if err != nil {
		return s.tapError(err, "open_tap")
	}
	if format := tap.Format(); !format.Valid() {
		_ = tap.Close()
		return errors.New(audiocore.ErrInvalidFormat).
			Component(ComponentOrchestrator).
			Category(errors.CategoryValidation).
			Context("device_id", s.device.ID).
			Context("sample_rate", format.SampleRate).
			Context("channels", format.Channels).
			Build()
	}
	if err := tap.Start(); err != nil {
		_ = tap.Close()
		return s.tapError(err, "start_tap")
	}
	s.tap = tap
	return nil
}

func (s *systemSession) tapError(cause error, operation string) error {
	return errors.New(errors.Join(audiocore.ErrTapInstall, cause)).
		Component(ComponentOrchestrator).
		Category(errors.CategoryAudioSource).
		Context("device_id", s.device.ID).
		Context("source", audiocore.SystemAudio().Key()).
		Context("operation", operation).
		Build()
}

// reconfigure reinstalls the tap after the device stopped
func (s *systemSession) reconfigure(ctx context.Context, provider capture.DeviceProvider, m *metrics.CaptureMetrics) error {
	if err := s.install(ctx, provider); err != nil {
		m.RecordDeviceRecovery(s.device.ID, metrics.StatusError)
		s.log.Error("system audio recovery failed", logger.Error(err))
		return err
	}
	m.RecordDeviceRecovery(s.device.ID, metrics.StatusSuccess)
	s.log.Info("system audio recovered")
	return nil
}

// stop closes the tap and drains the adapter. The encoder is left open.
func (s *systemSession) stop() {
	s.tapMu.Lock()
	tap := s.tap
	s.tap = nil
	s.stopped = true
	s.tapMu.Unlock()

	if tap != nil {
		if err := tap.Close(); err != nil {
			s.log.Warn("closing system audio tap failed", logger.Error(err))
		}
	}
	s.adapter.Stop()
}

// fileInfo describes the closed system audio file. System audio is kept
// whenever it received audio, so it counts as meaningful.
func (s *systemSession) fileInfo(path string, timing audiocore.SourceTimingInfo, now time.Time) MicFileInfo {
	_, active := s.tracker.Snapshot()
	return MicFileInfo{
		Device:             s.device,
		Path:               path,
		Timing:             timing,
		HadMeaningfulAudio: timing.HasAudio,
		ActiveDuration:     active,
		Duration:           now.Sub(s.since),
	}
}
