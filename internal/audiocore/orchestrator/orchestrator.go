// Package orchestrator runs one MicrophoneAdapter and SourceEncoder pair per
// input device, plus an optional system audio source, and rotates them into
// new segment directories without stopping capture.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/activity"
	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/audiocore/container"
	"github.com/tphakala/trackmix/internal/audiocore/encoder"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
	"github.com/tphakala/trackmix/internal/observability/metrics"
)

// ComponentOrchestrator identifies errors raised by the orchestrator
const ComponentOrchestrator = "orchestrator"

const (
	// DefaultFinalizeTimeout bounds how long Stop waits for encoders
	DefaultFinalizeTimeout = 30 * time.Second

	// DefaultRecoveryAttempts bounds how often Recover reinstalls a tap
	DefaultRecoveryAttempts = 5

	// DefaultRecoveryBackoff is the wait before the second attempt; it doubles
	// after every failure
	DefaultRecoveryBackoff = 500 * time.Millisecond

	// startConcurrency limits how many taps are installed at once
	startConcurrency = 4
)

// Config holds the orchestrator settings
type Config struct {
	MaxMicrophones    int
	SystemDevice      string // input device carrying system audio, e.g. a monitor source
	Settings          audiocore.EncoderSettings
	Capture           capture.Config
	SilenceThreshold  float64
	MinActiveDuration time.Duration
	FinalizeTimeout   time.Duration
	RecoveryAttempts  int
	RecoveryBackoff   time.Duration
	Metrics           *metrics.CaptureMetrics
	WriterFactory     container.Factory // nil uses container.Create
	Logger            logger.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxMicrophones <= 0 {
		c.MaxMicrophones = audiocore.DefaultMaxMicrophones
	}
	if c.Settings.SampleRate <= 0 {
		c.Settings = audiocore.DefaultEncoderSettings()
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = audiocore.DefaultSilenceThreshold
	}
	if c.MinActiveDuration <= 0 {
		c.MinActiveDuration = audiocore.DefaultMinActiveDuration
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if c.RecoveryAttempts <= 0 {
		c.RecoveryAttempts = DefaultRecoveryAttempts
	}
	if c.RecoveryBackoff <= 0 {
		c.RecoveryBackoff = DefaultRecoveryBackoff
	}
	if c.Capture.SampleRate <= 0 {
		c.Capture.SampleRate = c.Settings.SampleRate
	}
	if c.Capture.Metrics == nil {
		c.Capture.Metrics = c.Metrics
	}
	if c.Logger == nil {
		c.Logger = GetLogger()
	}
	return c
}

// GetLogger returns the orchestrator module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("orchestrator")
}

// MicFileInfo describes one microphone file closed by Rotate or Stop
type MicFileInfo struct {
	Device             capture.DeviceInfo
	Path               string
	Timing             audiocore.SourceTimingInfo
	HadMeaningfulAudio bool
	ActiveDuration     time.Duration
	Duration           time.Duration // wall clock since the mic started or last rotated
}

// StopResult partitions the microphones at shutdown
type StopResult struct {
	Active  []MicFileInfo
	Silent  int
	Deleted int
}

// micSession is a running microphone and its current output
type micSession struct {
	adapter *capture.MicrophoneAdapter
	tracker *activity.Tracker
	encoder *encoder.SourceEncoder
	since   time.Time
}

// Orchestrator records every available microphone into its own file
type Orchestrator struct {
	provider capture.DeviceProvider
	cfg      Config
	log      logger.Logger

	mu     sync.Mutex
	dir    string
	anchor time.Time
	mics   []*micSession
	system *systemSession
}

// New returns an orchestrator writing its first segment into dir
func New(provider capture.DeviceProvider, dir string, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		provider: provider,
		cfg:      cfg,
		log:      cfg.Logger,
		dir:      dir,
	}
}

// Start enumerates input devices, skips those in excluding and starts up
// to MaxMicrophones of the rest. Devices that fail to start are logged and
// skipped. Start fails with audiocore.ErrNoMicrophones only when devices
// were available but none started. No devices at all is not an error.
//
// When SystemDevice names an available device it is recorded as system
// audio instead of as a microphone. A system device that cannot be opened
// is logged and recording continues without it.
func (o *Orchestrator) Start(ctx context.Context, excluding []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.mics) > 0 || o.system != nil {
		return errors.Newf("orchestrator already started").
			Component(ComponentOrchestrator).
			Category(errors.CategoryState).
			Build()
	}

	devices, err := o.provider.Devices(ctx)
	if err != nil {
		return errors.New(err).
			Component(ComponentOrchestrator).
			Category(errors.CategoryAudioSource).
			Context("operation", "enumerate_devices").
			Build()
	}

	var systemDevice *capture.DeviceInfo
	candidates := make([]capture.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		if o.cfg.SystemDevice != "" && d.ID == o.cfg.SystemDevice {
			systemDevice = &d
			continue
		}
		if slices.Contains(excluding, d.ID) {
			o.log.Debug("device excluded", logger.String("device_id", d.ID))
			continue
		}
		candidates = append(candidates, d)
	}
	if len(candidates) > o.cfg.MaxMicrophones {
		o.log.Info("limiting microphones",
			logger.Int("available", len(candidates)),
			logger.Int("max", o.cfg.MaxMicrophones))
		candidates = candidates[:o.cfg.MaxMicrophones]
	}
	if o.cfg.SystemDevice != "" && systemDevice == nil {
		o.log.Warn("system audio device not found", logger.String("device_id", o.cfg.SystemDevice))
	}
	if len(candidates) == 0 && systemDevice == nil {
		o.log.Info("no microphones available")
		return nil
	}

	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return dirError(o.dir, err)
	}
	o.anchor = time.Now()

	if systemDevice != nil {
		sys, err := o.startSystem(ctx, *systemDevice)
		if err != nil {
			o.log.Warn("system audio skipped",
				logger.String("device", systemDevice.Name),
				logger.String("device_id", systemDevice.ID),
				logger.Error(err))
		} else {
			o.system = sys
			o.log.Info("system audio started", logger.String("device", systemDevice.Name))
		}
	}
	if len(candidates) == 0 {
		o.log.Info("no microphones available")
		return nil
	}

	started := make([]*micSession, len(candidates))
	var g errgroup.Group
	g.SetLimit(startConcurrency)
	for i, device := range candidates {
		g.Go(func() error {
			s, err := o.startMic(ctx, device)
			if err != nil {
				o.log.Warn("microphone skipped",
					logger.String("device", device.Name),
					logger.String("device_id", device.ID),
					logger.Error(err))
				return nil
			}
			started[i] = s
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range started {
		if s != nil {
			o.mics = append(o.mics, s)
		}
	}
	o.cfg.Metrics.SetActiveSources(audiocore.SourceMicrophone.String(), len(o.mics))

	if len(o.mics) == 0 {
		o.discardSystem()
		return errors.New(audiocore.ErrNoMicrophones).
			Component(ComponentOrchestrator).
			Category(errors.CategoryAudioSource).
			Context("available", len(candidates)).
			Build()
	}

	o.log.Info("microphones started",
		logger.Int("count", len(o.mics)),
		logger.String("dir", o.dir))
	return nil
}

func (o *Orchestrator) startMic(ctx context.Context, device capture.DeviceInfo) (*micSession, error) {
	tracker := activity.NewTracker(o.cfg.SilenceThreshold, o.cfg.MinActiveDuration)
	enc, err := o.newEncoder(o.dir, device.Source(), o.anchor, tracker)
	if err != nil {
		return nil, err
	}

	mic, err := capture.NewMicrophoneAdapter(o.provider, device, enc, o.cfg.Capture)
	if err != nil {
		enc.Finish()
		return nil, err
	}
	if err := mic.Start(ctx); err != nil {
		// no buffer reached the encoder, so Finish removes its file
		enc.Finish()
		return nil, err
	}

	return &micSession{
		adapter: mic,
		tracker: tracker,
		encoder: enc,
		since:   mic.StartedAt(),
	}, nil
}

func (o *Orchestrator) newEncoder(dir string, source audiocore.SourceType, anchor time.Time, tracker *activity.Tracker) (*encoder.SourceEncoder, error) {
	path := filepath.Join(dir, source.FileName(o.cfg.Settings.Format))

	opts := []encoder.Option{
		encoder.WithTracker(tracker),
		encoder.WithMetrics(o.cfg.Metrics),
	}
	if o.cfg.WriterFactory != nil {
		opts = append(opts, encoder.WithWriterFactory(o.cfg.WriterFactory))
	}
	return encoder.NewSourceEncoder(path, source, anchor, o.cfg.Settings, opts...)
}

// Rotate moves every source to a new file in newDir. The new encoder is
// built before the swap, so capture continues without a gap. A microphone
// whose new encoder cannot be created keeps writing to its old file; the
// error is logged and returned joined with the others once every
// microphone was handled.
//
// Rotate waits for the closed files to finalize before returning.
func (o *Orchestrator) Rotate(ctx context.Context, newDir string) ([]MicFileInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := os.MkdirAll(newDir, 0o755); err != nil {
		return nil, dirError(newDir, err)
	}

	now := time.Now()
	var errs []error
	var infos []MicFileInfo
	var closed []*encoder.SourceEncoder

	if o.system != nil {
		info, enc, err := o.rotateSystem(newDir, now)
		if err != nil {
			o.log.Error("rotation failed, keeping current system audio file", logger.Error(err))
			errs = append(errs, err)
		} else {
			infos = append(infos, info)
			closed = append(closed, enc)
		}
	}

	for _, s := range o.mics {
		enc, err := o.newEncoder(newDir, s.adapter.Device().Source(), now, s.tracker)
		if err != nil {
			o.log.Error("rotation failed, keeping current file",
				logger.String("device_id", s.adapter.Device().ID),
				logger.Error(err))
			errs = append(errs, err)
			continue
		}

		var meaningful bool
		var active time.Duration
		old := s.adapter.SwapWith(enc, func(capture.Sink) {
			meaningful, active = s.tracker.Snapshot()
			s.tracker.Reset()
		})

		prev := s.encoder
		if oldEnc, ok := old.(*encoder.SourceEncoder); ok {
			prev = oldEnc
		}
		timing := prev.Finish()
		closed = append(closed, prev)

		infos = append(infos, MicFileInfo{
			Device:             s.adapter.Device(),
			Path:               prev.Path(),
			Timing:             timing,
			HadMeaningfulAudio: meaningful,
			ActiveDuration:     active,
			Duration:           now.Sub(s.since),
		})
		s.encoder = enc
		s.since = now
	}

	o.dir = newDir
	o.anchor = now
	o.cfg.Metrics.RecordRotation()

	for _, enc := range closed {
		if err := enc.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	o.log.Info("segment rotated",
		logger.String("dir", newDir),
		logger.Int("files", len(infos)))
	return infos, errors.Join(errs...)
}

// Stop stops every source and finalizes its file. Files whose microphone
// never had meaningful audio are counted as silent and removed when
// deleteInactive is set. A system audio file is active whenever it received
// audio.
func (o *Orchestrator) Stop(deleteInactive bool) StopResult {
	o.mu.Lock()
	mics := o.mics
	sys := o.system
	o.mics = nil
	o.system = nil
	o.mu.Unlock()

	now := time.Now()
	var result StopResult
	if len(mics) == 0 && sys == nil {
		return result
	}

	// stop all taps before finalizing so devices are released promptly
	if sys != nil {
		sys.stop()
	}
	for _, s := range mics {
		s.adapter.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.FinalizeTimeout)
	defer cancel()

	if sys != nil {
		timing := sys.encoder.Finish()
		if err := sys.encoder.Wait(ctx); err != nil {
			o.log.Error("system audio file did not finalize",
				logger.String("path", sys.encoder.Path()),
				logger.Error(err))
		}
		if timing.HasAudio {
			result.Active = append(result.Active, sys.fileInfo(sys.encoder.Path(), timing, now))
		}
	}

	for _, s := range mics {
		timing := s.encoder.Finish()
		if err := s.encoder.Wait(ctx); err != nil {
			o.log.Error("microphone file did not finalize",
				logger.String("path", s.encoder.Path()),
				logger.Error(err))
		}

		meaningful, active := s.tracker.Snapshot()
		info := MicFileInfo{
			Device:             s.adapter.Device(),
			Path:               s.encoder.Path(),
			Timing:             timing,
			HadMeaningfulAudio: meaningful,
			ActiveDuration:     active,
			Duration:           now.Sub(s.since),
		}

		if meaningful && timing.HasAudio {
			result.Active = append(result.Active, info)
			continue
		}

		result.Silent++
		if deleteInactive && timing.HasAudio {
			if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
				o.log.Warn("failed to delete silent microphone file",
					logger.String("path", info.Path),
					logger.Error(err))
				continue
			}
			result.Deleted++
		}
	}

	o.cfg.Metrics.SetActiveSources(audiocore.SourceMicrophone.String(), 0)
	o.log.Info("microphones stopped",
		logger.Int("active", len(result.Active)),
		logger.Int("silent", result.Silent),
		logger.Int("deleted", result.Deleted))
	return result
}

// Reconfigure reinstalls the tap of deviceID after a device change
func (o *Orchestrator) Reconfigure(ctx context.Context, deviceID string) error {
	o.mu.Lock()
	var mic *capture.MicrophoneAdapter
	for _, s := range o.mics {
		if s.adapter.Device().ID == deviceID {
			mic = s.adapter
			break
		}
	}
	sys := o.system
	o.mu.Unlock()

	if mic == nil && sys != nil && sys.device.ID == deviceID {
		return sys.reconfigure(ctx, o.provider, o.cfg.Metrics)
	}
	if mic == nil {
		return errors.Newf("microphone %q is not recording", deviceID).
			Component(ComponentOrchestrator).
			Category(errors.CategoryNotFound).
			Context("device_id", deviceID).
			Build()
	}
	return mic.Reconfigure(ctx)
}

// Recover reinstalls the tap of deviceID, retrying with a doubling backoff
// while the device is not ready yet. It gives up after RecoveryAttempts
// failures and returns the last error. Unknown or stopped microphones and a
// recovery already running elsewhere are not retried.
func (o *Orchestrator) Recover(ctx context.Context, deviceID string) error {
	backoff := o.cfg.RecoveryBackoff
	var err error
	for attempt := 1; attempt <= o.cfg.RecoveryAttempts; attempt++ {
		err = o.Reconfigure(ctx, deviceID)
		switch {
		case err == nil:
			return nil
		case errors.IsNotFound(err),
			errors.Is(err, audiocore.ErrSourceStopped),
			errors.Is(err, audiocore.ErrRecoveryInProgress):
			return err
		}

		if attempt == o.cfg.RecoveryAttempts {
			break
		}
		o.log.Warn("microphone recovery failed, retrying",
			logger.String("device_id", deviceID),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", backoff),
			logger.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return err
}

// Microphones returns the devices being recorded
func (o *Orchestrator) Microphones() []capture.DeviceInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	devices := make([]capture.DeviceInfo, 0, len(o.mics))
	for _, s := range o.mics {
		devices = append(devices, s.adapter.Device())
	}
	return devices
}

// SystemAudio returns the device recorded as system audio, if any
func (o *Orchestrator) SystemAudio() (capture.DeviceInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.system == nil {
		return capture.DeviceInfo{}, false
	}
	return o.system.device, true
}

// Anchor returns the start of the current segment
func (o *Orchestrator) Anchor() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.anchor
}

// Dir returns the directory of the current segment
func (o *Orchestrator) Dir() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dir
}

// Manifest builds the remix input for files closed by Rotate or Stop.
// Files that received no audio are left out.
func Manifest(segmentID string, anchor time.Time, files []MicFileInfo) audiocore.Manifest {
	m := audiocore.Manifest{SegmentID: segmentID, Anchor: anchor}
	for _, f := range files {
		if !f.Timing.HasAudio {
			continue
		}
		m.Add(f.Path, f.Timing)
	}
	return m
}

// rotateSystem swaps the system audio encoder for one in newDir and
// finishes the old one. Called with o.mu held.
func (o *Orchestrator) rotateSystem(newDir string, now time.Time) (MicFileInfo, *encoder.SourceEncoder, error) {
	sys := o.system
	enc, err := o.newEncoder(newDir, audiocore.SystemAudio(), now, sys.tracker)
	if err != nil {
		return MicFileInfo{}, nil, err
	}

	var active time.Duration
	old := sys.adapter.SwapWith(enc, func(capture.Sink) {
		_, active = sys.tracker.Snapshot()
		sys.tracker.Reset()
	})
	prev := sys.encoder
	if oldEnc, ok := old.(*encoder.SourceEncoder); ok {
		prev = oldEnc
	}
	timing := prev.Finish()

	info := MicFileInfo{
		Device:             sys.device,
		Path:               prev.Path(),
		Timing:             timing,
		HadMeaningfulAudio: timing.HasAudio,
		ActiveDuration:     active,
		Duration:           now.Sub(sys.since),
	}
	sys.encoder = enc
	sys.since = now
	return info, prev, nil
}

// discardSystem stops system audio that was started without any microphone
// to go with it. Called with o.mu held.
func (o *Orchestrator) discardSystem() {
	if o.system == nil {
		return
	}
	o.system.stop()
	o.system.encoder.Finish()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.FinalizeTimeout)
	defer cancel()
	if err := o.system.encoder.Wait(ctx); err != nil {
		o.log.Warn("system audio file did not finalize", logger.Error(err))
	}
	o.system = nil
}

func dirError(dir string, err error) error {
	return errors.New(err).
		Component(ComponentOrchestrator).
		Category(errors.CategoryFileIO).
		FileContext(dir, 0).
		Context("operation", "create_segment_dir").
		Build()
}
