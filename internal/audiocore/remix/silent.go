package remix

import (
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/container"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

// RemoveSilentTracks rewrites the multi-track file at path keeping track 0
// and every track flagged in meaningful. Tracks without a flag are kept.
// Backends that can select streams do so without decoding; otherwise the
// kept tracks are decoded and written one after another. It returns the
// number of tracks removed.
func (r *Remixer) RemoveSilentTracks(ctx context.Context, path string, meaningful []bool) (int, error) {
	reader, err := container.Open(ctx, path, r.cfg.Settings)
	if err != nil {
		return 0, err
	}
	total := reader.Tracks()
	_ = reader.Close()

	keep := keptTracks(total, meaningful)
	removed := total - len(keep)
	if removed == 0 {
		return 0, nil
	}

	log := r.log.With(logger.String("path", path))
	tmp := tempPath(path)
	defer func() {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove temporary file", logger.String("tmp", tmp), logger.Error(err))
		}
	}()

	backend, err := container.BackendFor(path, r.cfg.Settings)
	if err != nil {
		return 0, err
	}
	if selector, ok := backend.(container.TrackSelector); ok {
		err = selector.SelectTracks(ctx, path, tmp, keep)
	} else {
		err = r.rewriteTracks(ctx, path, tmp, keep)
	}
	if err != nil {
		return 0, err
	}

	if err := os.Rename(tmp, path); err != nil {
		return 0, errors.New(err).
			Component(ComponentRemix).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("operation", "replace_with_kept_tracks").
			Build()
	}

	r.cfg.Metrics.RecordSilentTracksRemoved(removed)
	log.Info("silent tracks removed", logger.Int("removed", removed), logger.Int("kept", len(keep)))
	return removed, nil
}

func keptTracks(total int, meaningful []bool) []int {
	keep := make([]int, 0, total)
	for i := range total {
		if i == audiocore.SystemTrackIndex || i >= len(meaningful) || meaningful[i] {
			keep = append(keep, i)
		}
	}
	return keep
}

// rewriteTracks decodes the kept tracks of src and writes them to dst one
// track at a time. The tracks already share a timeline, so chunks keep their
// presentation times.
func (r *Remixer) rewriteTracks(ctx context.Context, src, dst string, keep []int) error {
	reader, err := container.Open(ctx, src, r.cfg.Settings)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	writer, err := r.cfg.WriterFactory(dst, r.cfg.Settings)
	if err != nil {
		return err
	}

	indices := make([]int, len(keep))
	for i, k := range keep {
		source := audiocore.SystemAudio()
		if k != audiocore.SystemTrackIndex {
			id := strconv.Itoa(k)
			source = audiocore.Microphone("track "+id, id)
		}
		idx, err := writer.AddTrack(source)
		if err != nil {
			writer.Cancel()
			return err
		}
		indices[i] = idx
	}
	if err := writer.StartSession(); err != nil {
		writer.Cancel()
		return err
	}

	var end time.Duration
	for i, k := range keep {
		trackEnd, err := r.copyTrack(ctx, reader, k, writer, indices[i])
		if err != nil {
			writer.Cancel()
			return err
		}
		end = max(end, trackEnd)
	}
	writer.EndSession(end)

	return awaitWriter(ctx, writer, dst)
}

func (r *Remixer) copyTrack(ctx context.Context, reader container.Reader, src int, writer container.Writer, dst int) (time.Duration, error) {
	tr, err := reader.Track(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tr.Close() }()

	var end time.Duration
	for {
		chunk, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return end, writer.MarkTrackFinished(dst)
		}
		if err != nil {
			return end, err
		}

		for !writer.ReadyForMoreData(dst) {
			if err := ctx.Err(); err != nil {
				return end, err
			}
			sleep(ctx, r.cfg.PollInterval)
		}
		if err := writer.Append(dst, chunk.Samples, chunk.PTS); err != nil {
			return end, errors.New(errors.Join(audiocore.ErrWriteFailed, err)).
				Component(ComponentRemix).
				Category(errors.CategoryFileIO).
				Context("track", src).
				Build()
		}
		end = max(end, chunk.PTS+audiocore.FramesToDuration(len(chunk.Samples), reader.SampleRate()))
	}
}
