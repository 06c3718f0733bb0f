// Package remix merges the per-source files of a segment into one
// multi-track container aligned on the segment timeline.
package remix

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/container"
	"github.com/tphakala/trackmix/internal/audiocore/speech"
	"github.com/tphakala/trackmix/internal/conf"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
	"github.com/tphakala/trackmix/internal/observability/metrics"
)

// ComponentRemix identifies errors raised by the remixer
const ComponentRemix = "remix"

// DefaultConcurrency is the number of files classified at once
const DefaultConcurrency = 4

// Config holds the remixer settings
type Config struct {
	Settings          audiocore.EncoderSettings // output container settings
	Classifier        speech.Classifier         // nil disables classification
	ClassifierTimeout time.Duration
	Concurrency       int
	PollInterval      time.Duration
	WriterFactory     container.Factory // nil uses container.Create
	Metrics           *metrics.RemixMetrics
	Logger            logger.Logger
}

// Options control a single Remix call
type Options struct {
	DeleteOriginals bool   // remove merged inputs after success
	RejectedDir     string // move NoSpeech sources here instead of deleting them
}

// Result summarizes a remix
type Result struct {
	Written  int      // tracks in the output
	Skipped  int      // sources left out
	Consumed []string // inputs whose audio is in the output
	Path     string   // the output file
}

// Remixer merges segments. It is safe for concurrent use; every call works
// on its own files.
type Remixer struct {
	cfg        Config
	classifier speech.Classifier
	log        logger.Logger
}

// GetLogger returns the remix module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("remix")
}

// New returns a remixer
func New(cfg Config) *Remixer {
	if cfg.Settings.SampleRate <= 0 {
		cfg.Settings = audiocore.DefaultEncoderSettings()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = audiocore.DefaultPollInterval
	}
	if cfg.WriterFactory == nil {
		cfg.WriterFactory = container.Create
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}

	var classifier speech.Classifier = speech.Disabled{}
	if cfg.Classifier != nil {
		classifier = speech.WithTimeout(cfg.Classifier, cfg.ClassifierTimeout)
	}

	return &Remixer{cfg: cfg, classifier: classifier, log: cfg.Logger}
}

// track is one source attached to the output container
type track struct {
	entry    audiocore.ManifestEntry
	reader   container.Reader
	tr       container.TrackReader
	index    int
	offset   time.Duration
	pending  *container.Chunk
	finished bool
}

// Remix writes the sources of manifest into dest. Sources without audio,
// missing microphone files and microphones classified as NoSpeech are left
// out. When nothing is left it fails with audiocore.ErrNothingToWrite and
// creates no file. The output is written to a temporary file next to dest
// and renamed over dest only after it finalized successfully.
func (r *Remixer) Remix(ctx context.Context, manifest audiocore.Manifest, dest string, opts Options) (result Result, err error) {
	start := time.Now()
	defer func() {
		status := metrics.StatusSuccess
		switch {
		case errors.Is(err, audiocore.ErrNothingToWrite):
			status = metrics.StatusEmpty
		case err != nil:
			status = metrics.StatusError
		}
		r.cfg.Metrics.RecordRemix(status, time.Since(start))
	}()

	log := r.log.With(logger.String("dest", dest), logger.String("segment_id", manifest.SegmentID))

	entries := slices.Clone(manifest.Entries)
	manifest.Entries = entries
	manifest.SortSystemFirst()

	kept, skipped, err := r.filter(ctx, manifest.Entries, opts, log)
	if err != nil {
		return Result{}, err
	}
	result.Skipped = skipped

	if len(kept) == 0 {
		log.Info("nothing to remix", logger.Int("skipped", skipped))
		return result, errors.New(audiocore.ErrNothingToWrite).
			Component(ComponentRemix).
			Category(errors.CategoryNotFound).
			Context("skipped", skipped).
			Build()
	}

	tmp := tempPath(dest)
	defer func() {
		if rmErr := os.Remove(tmp); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn("failed to remove temporary file", logger.String("path", tmp), logger.Error(rmErr))
		}
	}()

	writer, err := r.cfg.WriterFactory(tmp, r.cfg.Settings)
	if err != nil {
		return result, err
	}

	tracks := r.attach(ctx, writer, kept, log)
	defer closeTracks(tracks)
	result.Skipped += len(kept) - len(tracks)

	if len(tracks) == 0 {
		writer.Cancel()
		return result, errors.New(audiocore.ErrNoTracksAttached).
			Component(ComponentRemix).
			Category(errors.CategoryProcessing).
			FileContext(dest, 0).
			Context("sources", len(kept)).
			Build()
	}

	if err := writer.StartSession(); err != nil {
		writer.Cancel()
		return result, err
	}

	end, err := r.pump(ctx, writer, tracks)
	if err != nil {
		writer.Cancel()
		return result, err
	}
	writer.EndSession(end)

	if err := awaitWriter(ctx, writer, dest); err != nil {
		return result, err
	}

	if err := os.Rename(tmp, dest); err != nil {
		return result, errors.New(err).
			Component(ComponentRemix).
			Category(errors.CategoryFileIO).
			FileContext(dest, 0).
			Context("operation", "rename_output").
			Build()
	}

	result.Written = len(tracks)
	result.Path = dest
	for _, t := range tracks {
		result.Consumed = append(result.Consumed, t.entry.Path)
	}
	r.cfg.Metrics.RecordTracksWritten(result.Written)

	if opts.DeleteOriginals {
		closeTracks(tracks)
		removeFiles(result.Consumed, log)
	}

	log.Info("segment remixed",
		logger.Int("tracks", result.Written),
		logger.Int("skipped", result.Skipped),
		logger.Duration("length", end),
		logger.Duration("elapsed", time.Since(start)))
	return result, nil
}

// filter drops sources that must not reach the output and classifies the
// remaining microphones
func (r *Remixer) filter(ctx context.Context, entries []audiocore.ManifestEntry, opts Options, log logger.Logger) (kept []audiocore.ManifestEntry, skipped int, err error) {
	candidates := make([]audiocore.ManifestEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Timing.HasAudio {
			skipped++
			r.cfg.Metrics.RecordTrackSkipped(metrics.SkipNoAudio)
			log.Debug("source has no audio", logger.String("source", e.Timing.Source.Key()))
			continue
		}
		if !e.Timing.Source.IsSystemAudio() {
			if _, statErr := os.Stat(e.Path); statErr != nil {
				skipped++
				r.cfg.Metrics.RecordTrackSkipped(metrics.SkipMissingFile)
				log.Warn("microphone file missing", logger.String("path", e.Path), logger.Error(statErr))
				continue
			}
		}
		candidates = append(candidates, e)
	}

	verdicts := make([]speech.Result, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, e := range candidates {
		if e.Timing.Source.IsSystemAudio() {
			verdicts[i] = speech.Detected("system audio")
			continue
		}
		g.Go(func() error {
			began := time.Now()
			verdicts[i] = r.classifier.Classify(gctx, e.Path)
			r.cfg.Metrics.RecordVerdict(verdicts[i].Verdict.String(), time.Since(began))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, errors.New(err).
			Component(ComponentRemix).
			Category(errors.CategoryCancellation).
			Context("operation", "classify_sources").
			Build()
	}

	for i, e := range candidates {
		res := verdicts[i]
		if res.Keep() {
			if res.Verdict == speech.Unavailable {
				log.Debug("classifier unavailable, keeping source",
					logger.String("path", e.Path),
					logger.String("reason", res.Reason))
			}
			kept = append(kept, e)
			continue
		}

		skipped++
		r.cfg.Metrics.RecordTrackSkipped(metrics.SkipNoSpeech)
		log.Info("no speech detected, source rejected",
			logger.String("path", e.Path),
			logger.String("reason", res.Reason))
		r.reject(e.Path, opts.RejectedDir, log)
	}
	return kept, skipped, nil
}

// reject moves a rejected file to dir, or deletes it when dir is empty
func (r *Remixer) reject(path, dir string, log logger.Logger) {
	if dir == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to delete rejected source", logger.String("path", path), logger.Error(err))
		}
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("failed to create rejected directory", logger.String("dir", dir), logger.Error(err))
		return
	}
	if err := conf.MoveFile(path, filepath.Join(dir, filepath.Base(path))); err != nil {
		log.Warn("failed to move rejected source", logger.String("path", path), logger.Error(err))
	}
}

// attach opens a reader per source and adds its track. Sources that cannot
// be opened are logged and skipped.
func (r *Remixer) attach(ctx context.Context, writer container.Writer, entries []audiocore.ManifestEntry, log logger.Logger) []*track {
	var tracks []*track
	for _, e := range entries {
		t, err := r.open(ctx, e)
		if err != nil {
			r.cfg.Metrics.RecordTrackSkipped(metrics.SkipAttachFailure)
			log.Warn("source could not be attached", logger.String("path", e.Path), logger.Error(err))
			continue
		}
		idx, err := writer.AddTrack(e.Timing.Source)
		if err != nil {
			t.close()
			r.cfg.Metrics.RecordTrackSkipped(metrics.SkipAttachFailure)
			log.Warn("track could not be added", logger.String("path", e.Path), logger.Error(err))
			continue
		}
		t.index = idx
		tracks = append(tracks, t)
	}
	return tracks
}

func (r *Remixer) open(ctx context.Context, e audiocore.ManifestEntry) (*track, error) {
	reader, err := container.Open(ctx, e.Path, r.cfg.Settings)
	if err != nil {
		return nil, err
	}
	if reader.Tracks() == 0 {
		_ = reader.Close()
		return nil, errors.New(audiocore.ErrNoTracksAttached).
			Component(ComponentRemix).
			Category(errors.CategoryValidation).
			FileContext(e.Path, 0).
			Build()
	}
	tr, err := reader.Track(0)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}
	return &track{
		entry:  e,
		reader: reader,
		tr:     tr,
		offset: e.Timing.StartOffset,
	}, nil
}

func (t *track) close() {
	if t.tr != nil {
		_ = t.tr.Close()
		t.tr = nil
	}
	if t.reader != nil {
		_ = t.reader.Close()
		t.reader = nil
	}
}

func closeTracks(tracks []*track) {
	for _, t := range tracks {
		t.close()
	}
}

// pump feeds all tracks round robin so that no track runs far ahead of the
// others. Each track holds at most one chunk the writer was not ready for,
// and that chunk is retried before a new one is read. It returns the end of
// the latest sample written.
func (r *Remixer) pump(ctx context.Context, writer container.Writer, tracks []*track) (time.Duration, error) {
	var end time.Duration
	rate := r.cfg.Settings.SampleRate
	remaining := len(tracks)

	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return end, errors.New(err).
				Component(ComponentRemix).
				Category(errors.CategoryCancellation).
				Context("operation", "remix_pump").
				Build()
		}

		progress := false
		for _, t := range tracks {
			if t.finished {
				continue
			}

			if t.pending == nil {
				chunk, err := t.tr.Next()
				if errors.Is(err, io.EOF) {
					if err := writer.MarkTrackFinished(t.index); err != nil {
						return end, err
					}
					t.finished = true
					remaining--
					progress = true
					continue
				}
				if err != nil {
					return end, errors.New(err).
						Component(ComponentRemix).
						Category(errors.CategoryFileIO).
						FileContext(t.entry.Path, 0).
						Context("operation", "decode_source").
						Build()
				}
				chunk.PTS += t.offset
				t.pending = &chunk
				progress = true
			}

			if !writer.ReadyForMoreData(t.index) {
				continue
			}
			if err := writer.Append(t.index, t.pending.Samples, t.pending.PTS); err != nil {
				return end, errors.New(errors.Join(audiocore.ErrWriteFailed, err)).
					Component(ComponentRemix).
					Category(errors.CategoryFileIO).
					FileContext(t.entry.Path, 0).
					Context("track", t.index).
					Build()
			}
			end = max(end, t.pending.PTS+audiocore.FramesToDuration(len(t.pending.Samples), rate))
			t.pending = nil
			progress = true
		}

		if !progress {
			sleep(ctx, r.cfg.PollInterval)
		}
	}
	return end, nil
}

// awaitWriter finalizes writer and checks that it completed
func awaitWriter(ctx context.Context, writer container.Writer, dest string) error {
	select {
	case <-writer.Finalize():
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component(ComponentRemix).
			Category(errors.CategoryCancellation).
			FileContext(dest, 0).
			Context("operation", "finalize_output").
			Build()
	}

	if status := writer.Status(); status != container.StatusCompleted {
		cause := writer.Err()
		if cause == nil {
			cause = errors.Newf("output finished with status %s", status).
				Component(ComponentRemix).
				Category(errors.CategoryFileIO).
				Build()
		}
		return errors.New(errors.Join(audiocore.ErrWriteFailed, cause)).
			Component(ComponentRemix).
			Category(errors.CategoryFileIO).
			FileContext(dest, 0).
			Context("status", status.String()).
			Build()
	}
	return nil
}

// tempPath returns a hidden file next to dest with dest's extension, so the
// same backend writes it
func tempPath(dest string) string {
	dir, base := filepath.Split(dest)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, "."+stem+"."+uuid.NewString()+".tmp"+ext)
}

func removeFiles(paths []string, log logger.Logger) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to delete original", logger.String("path", p), logger.Error(err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
