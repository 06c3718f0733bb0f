package container

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/conf"
	"github.com/tphakala/trackmix/internal/errors"
)

// FFmpegBackend encodes AAC in fragmented MP4 and decodes anything ffmpeg
// can read. Fragmented output lets ffmpeg stream to a pipe and keeps partial
// files playable.
type FFmpegBackend struct {
	configured string

	once    sync.Once
	ffmpeg  string
	ffprobe string
	err     error
}

// NewFFmpegBackend returns a backend using the ffmpeg binary at configured,
// or the one found in PATH when configured is empty.
func NewFFmpegBackend(configured string) *FFmpegBackend {
	return &FFmpegBackend{configured: configured}
}

// Name implements Backend
func (b *FFmpegBackend) Name() string { return "ffmpeg" }

func (b *FFmpegBackend) resolve() (ffmpegPath, ffprobePath string, err error) {
	b.once.Do(func() {
		b.ffmpeg, b.err = conf.ValidateToolPath(b.configured, conf.GetFfmpegBinaryName())
		if b.err != nil {
			return
		}
		b.ffprobe = conf.FfprobePathFor(b.ffmpeg)
	})
	return b.ffmpeg, b.ffprobe, b.err
}

// Create implements Backend
func (b *FFmpegBackend) Create(path string, settings audiocore.EncoderSettings) (Writer, error) {
	ffmpegPath, _, err := b.resolve()
	if err != nil {
		return nil, err
	}
	return NewFFmpegWriter(ffmpegPath, path, settings)
}

// Open implements Backend
func (b *FFmpegBackend) Open(ctx context.Context, path string, sampleRate int) (Reader, error) {
	ffmpegPath, ffprobePath, err := b.resolve()
	if err != nil {
		return nil, err
	}
	return OpenFFmpeg(ctx, ffmpegPath, ffprobePath, path, sampleRate)
}

// SelectTracks implements TrackSelector by stream copy
func (b *FFmpegBackend) SelectTracks(ctx context.Context, src, dst string, keep []int) error {
	ffmpegPath, _, err := b.resolve()
	if err != nil {
		return err
	}
	if len(keep) == 0 {
		return errors.New(audiocore.ErrNoTracksAttached).
			Component(ComponentContainer).
			Category(errors.CategoryProcessing).
			FileContext(src, 0).
			Build()
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", src}
	for _, idx := range keep {
		args = append(args, "-map", "0:a:"+strconv.Itoa(idx))
	}
	args = append(args, "-c", "copy", "-movflags", fragmentFlags, "-f", "mp4", dst)

	cmd := exec.CommandContext(ctx, ffmpegPath, args...) //nolint:gosec // G204: args built from track indices
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategoryCommandExecution).
			Context("operation", "select_tracks").
			Context("stderr", trimStderr(&stderr)).
			Build()
	}
	return nil
}

// fragmentFlags makes ffmpeg write a streamable MP4 to a pipe
const fragmentFlags = "+frag_keyframe+empty_moov+default_base_moof"

// probeAudioStreams returns the number of audio streams in path
func probeAudioStreams(ctx context.Context, ffprobePath, path string) (int, error) {
	cmd := exec.CommandContext(ctx, ffprobePath, //nolint:gosec // G204: fixed arguments plus file path
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return 0, errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategoryCommandExecution).
			FileContext(path, 0).
			Context("operation", "probe_streams").
			Context("stderr", trimStderr(&stderr)).
			Build()
	}

	count := 0
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			count++
		}
	}
	return count, nil
}

// trimStderr returns the tail of ffmpeg's error output
func trimStderr(buf *bytes.Buffer) string {
	const maxLen = 512
	s := strings.TrimSpace(buf.String())
	if len(s) > maxLen {
		s = s[len(s)-maxLen:]
	}
	return s
}
