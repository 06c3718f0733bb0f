//go:build silero

package speech

import (
	"context"
	"fmt"
	"sync"

	vad "github.com/streamer45/silero-vad-go/speech"

	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

// Silero classifies with the silero voice activity detector
type Silero struct {
	cfg SileroConfig

	// the detector keeps internal state and is not safe for concurrent use
	mu sync.Mutex
	sd *vad.Detector
}

// NewSilero loads the model and returns a classifier
func NewSilero(cfg SileroConfig) (Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, errors.Newf("silero model path is not configured").
			Component("speech").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sd, err := vad.NewDetector(vad.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           SileroSampleRate,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: int(cfg.MinSilenceDuration.Milliseconds()),
		SpeechPadMs:          int(cfg.SpeechPad.Milliseconds()),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("speech").
			Category(errors.CategoryClassifier).
			Context("operation", "load_model").
			Build()
	}

	return &Silero{cfg: cfg, sd: sd}, nil
}

// Classify implements Classifier
func (s *Silero) Classify(ctx context.Context, path string) Result {
	samples, err := LoadMono(ctx, path, SileroSampleRate, s.cfg.FFmpegPath)
	if err != nil {
		GetLogger().Warn("failed to decode audio for classification",
			logger.String("path", path),
			logger.Error(err))
		return Unknown("decode failed: " + err.Error())
	}
	if len(samples) == 0 {
		return Silent("empty audio")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sd.Reset(); err != nil {
		return Unknown("detector reset failed: " + err.Error())
	}
	segments, err := s.sd.Detect(samples)
	if err != nil {
		return Unknown("detection failed: " + err.Error())
	}

	spans := make([][2]float64, 0, len(segments))
	for _, seg := range segments {
		spans = append(spans, [2]float64{seg.SpeechStartAt, seg.SpeechEndAt})
	}
	total := speechTotal(spans, float64(len(samples))/SileroSampleRate)

	if total >= s.cfg.MinSpeech {
		return Detected(fmt.Sprintf("%s of speech in %d segments", total, len(segments)))
	}
	return Silent(fmt.Sprintf("%s of speech, below %s", total, s.cfg.MinSpeech))
}

// Close releases the model
func (s *Silero) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sd.Destroy()
}
