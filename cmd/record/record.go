// Package record implements the record command. Every microphone, and the
// system audio device when one is configured, is captured into its own file
// inside a segment directory; at each rotation the finished segment is
// remixed into one multi-track file with system audio on track 0.
package record

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/audiocore/orchestrator"
	"github.com/tphakala/trackmix/internal/audiocore/remix"
	"github.com/tphakala/trackmix/internal/audiocore/sources"
	"github.com/tphakala/trackmix/internal/conf"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
	"github.com/tphakala/trackmix/internal/observability"
)

const segmentTimeFormat = "20060102-150405"

// Flags override the segment settings for one run
type Flags struct {
	OutputDir string
	Segment   time.Duration
	Exclude   []string
}

// Command creates the record command
func Command(settings *conf.Settings) *cobra.Command {
	var flags Flags

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record every microphone into rotating segments",
		Long: "Capture all available microphones and the configured system audio device, each into its own file, and remix every " +
			"finished segment into one multi-track file. Stops on SIGINT or SIGTERM.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := NewRecorder(apply(settings, flags))
			provider, err := sources.NewProvider("", sources.Options{
				SampleRate:   settings.Audio.SampleRate,
				OnDeviceStop: r.deviceStopped,
			})
			if err != nil {
				return err
			}
			return r.Run(ctx, provider)
		},
	}

	cmd.Flags().StringVarP(&flags.OutputDir, "output-dir", "o", "", "Parent directory of segment directories (default segment.outputdir)")
	cmd.Flags().DurationVarP(&flags.Segment, "segment", "s", 0, "Segment length, 0 keeps segment.length")
	cmd.Flags().StringSliceVarP(&flags.Exclude, "exclude", "x", nil, "Device IDs to skip in addition to audio.excludedevices")

	return cmd
}

// apply returns a copy of settings with the command line overrides applied
func apply(settings *conf.Settings, flags Flags) *conf.Settings {
	s := *settings
	if flags.OutputDir != "" {
		s.Segment.OutputDir = flags.OutputDir
	}
	if flags.Segment > 0 {
		s.Segment.Length = flags.Segment
	}
	if len(flags.Exclude) > 0 {
		s.Audio.ExcludeDevices = append(append([]string(nil), settings.Audio.ExcludeDevices...), flags.Exclude...)
	}
	return &s
}

// GetLogger returns the record module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("record")
}

// Recorder drives one recording session
type Recorder struct {
	settings *conf.Settings
	orch     atomic.Pointer[orchestrator.Orchestrator]
	remixer  *remix.Remixer
	log      logger.Logger

	// finalizers remix closed segments in the background
	finalizers sync.WaitGroup
}

// NewRecorder creates a recorder for settings
func NewRecorder(settings *conf.Settings) *Recorder {
	return &Recorder{settings: settings}
}

// Run records until ctx is cancelled. The last segment is finalized after
// cancellation before Run returns.
func (r *Recorder) Run(ctx context.Context, provider capture.DeviceProvider) error {
	r.log = GetLogger()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	quit := make(chan struct{})
	defer func() {
		close(quit)
		wg.Wait()
	}()
	if listen := r.settings.Metrics.Listen; listen != "" {
		endpoint, err := observability.NewEndpoint(listen, m)
		if err != nil {
			return err
		}
		endpoint.Start(&wg, quit)
	}

	r.remixer = remix.New(remix.ConfigFromSettings(r.settings, m.Remix))

	dir := segmentDir(r.settings.Segment.OutputDir, time.Now())
	orch := orchestrator.New(provider, dir, orchestrator.Config{
		MaxMicrophones:    r.settings.Audio.MaxMicrophones,
		SystemDevice:      r.settings.Audio.SystemDevice,
		Settings:          r.settings.Encoder(),
		SilenceThreshold:  r.settings.Audio.SilenceThreshold,
		MinActiveDuration: r.settings.Audio.MinActiveDuration,
		Metrics:           m.Capture,
		Capture: capture.Config{
			SampleRate: r.settings.Audio.SampleRate,
			QueueSize:  r.settings.Audio.QueueSize,
			Gain:       r.settings.Audio.MicGain,
		},
	})
	r.orch.Store(orch)

	if err := orch.Start(ctx, r.settings.Audio.ExcludeDevices); err != nil {
		return err
	}
	_, system := orch.SystemAudio()
	if len(orch.Microphones()) == 0 && !system {
		r.log.Warn("no microphones to record")
		orch.Stop(false)
		return nil
	}
	r.log.Info("recording started",
		logger.String("dir", dir),
		logger.Int("microphones", len(orch.Microphones())),
		logger.Bool("system_audio", system),
		logger.Duration("segment", r.settings.Segment.Length))

	r.loop(ctx)

	anchor := orch.Anchor()
	dir = orch.Dir()
	result := orch.Stop(r.settings.Remix.DeleteInactive)
	r.log.Info("recording stopped",
		logger.Int("active", len(result.Active)),
		logger.Int("silent", result.Silent),
		logger.Int("deleted", result.Deleted))

	r.finalizeSegment(context.WithoutCancel(ctx), dir, anchor, result.Active)
	r.finalizers.Wait()
	return nil
}

// loop rotates segments every Segment.Length until ctx is done
func (r *Recorder) loop(ctx context.Context) {
	if r.settings.Segment.Length <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(r.settings.Segment.Length)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.rotate(ctx, now)
		}
	}
}

func (r *Recorder) rotate(ctx context.Context, now time.Time) {
	orch := r.orch.Load()
	dir := orch.Dir()
	anchor := orch.Anchor()

	files, err := orch.Rotate(ctx, segmentDir(r.settings.Segment.OutputDir, now))
	if err != nil {
		r.log.Warn("rotation incomplete", logger.String("dir", dir), logger.Error(err))
	}
	if len(files) == 0 {
		return
	}

	deleteInactive := r.settings.Remix.DeleteInactive
	active := files[:0]
	for _, f := range files {
		if f.HadMeaningfulAudio && f.Timing.HasAudio {
			active = append(active, f)
			continue
		}
		if deleteInactive && f.Timing.HasAudio {
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				r.log.Warn("failed to delete inactive microphone file", logger.String("path", f.Path), logger.Error(err))
			}
		}
	}

	r.finalizers.Go(func() {
		r.finalizeSegment(context.WithoutCancel(ctx), dir, anchor, active)
	})
}

// finalizeSegment writes the manifest of a closed segment and remixes it
func (r *Recorder) finalizeSegment(ctx context.Context, dir string, anchor time.Time, files []orchestrator.MicFileInfo) {
	log := r.log.With(logger.String("dir", dir))

	manifest := orchestrator.Manifest(filepath.Base(dir), anchor, files)
	if len(manifest.Entries) == 0 {
		log.Info("segment has no audio")
		return
	}
	if err := manifest.Save(dir); err != nil {
		log.Error("failed to save manifest", logger.Error(err))
		return
	}

	dest := filepath.Join(dir, r.settings.Remix.OutputName+r.settings.Encoder().Format.Extension())
	res, err := r.remixer.Remix(ctx, manifest, dest, remix.OptionsFromSettings(r.settings))
	switch {
	case errors.Is(err, audiocore.ErrNothingToWrite):
		log.Info("nothing to remix", logger.Int("skipped", res.Skipped))
	case err != nil:
		log.Error("segment remix failed", logger.Error(err))
	default:
		log.Info("segment remixed",
			logger.String("path", res.Path),
			logger.Int("tracks", res.Written),
			logger.Int("skipped", res.Skipped))
	}
}

// deviceStopped restarts a source whose device stopped on its own
func (r *Recorder) deviceStopped(deviceID string) {
	orch := r.orch.Load()
	if orch == nil {
		return
	}
	go func() {
		if err := orch.Recover(context.Background(), deviceID); err != nil {
			r.log.Warn("microphone recovery failed", logger.String("device", deviceID), logger.Error(err))
		}
	}()
}

// segmentDir names the directory of a segment starting at t
func segmentDir(root string, t time.Time) string {
	return filepath.Join(root, fmt.Sprintf("%s-%s", t.Format(segmentTimeFormat), uuid.NewString()[:8]))
}
