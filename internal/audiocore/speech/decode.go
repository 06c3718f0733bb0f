package speech

import (
	"context"
	"io"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/container"
)

// LoadMono decodes the first track of path at sampleRate
func LoadMono(ctx context.Context, path string, sampleRate int, ffmpegPath string) ([]float32, error) {
	settings := audiocore.DefaultEncoderSettings()
	settings.SampleRate = sampleRate
	settings.FFmpegPath = ffmpegPath

	r, err := container.Open(ctx, path, settings)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	tr, err := r.Track(0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tr.Close() }()

	var samples []float32
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := tr.Next()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return nil, err
		}
		samples = append(samples, chunk.Samples...)
	}
}
