// Package processors provides sample processors applied by capture adapters
// before buffers reach an encoder.
package processors

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

// MaxGain is the largest accepted linear gain
const MaxGain = 10.0

// GainProcessor applies a linear gain to float32 samples and clamps the
// result to [-1, 1]. The gain can be changed while audio is flowing.
type GainProcessor struct {
	id   string
	gain atomic.Uint64 // math.Float64bits of the gain
	log  logger.Logger
}

// NewGainProcessor creates a new gain processor
func NewGainProcessor(id string, initialGain float64) (*GainProcessor, error) {
	if err := validateGain(initialGain); err != nil {
		return nil, err
	}

	gp := &GainProcessor{
		id:  id,
		log: logger.Global().Module("audio").With(logger.String("processor_id", id)),
	}
	gp.gain.Store(math.Float64bits(initialGain))

	gp.log.Debug("gain processor created", logger.Float64("initial_gain", initialGain))
	return gp, nil
}

func validateGain(gain float64) error {
	if math.IsNaN(gain) || gain < 0.0 || gain > MaxGain {
		return errors.New(audiocore.ErrInvalidFormat).
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("gain", gain).
			Context("error", "gain must be between 0.0 and 10.0").
			Build()
	}
	return nil
}

// ID returns a unique identifier for this processor
func (gp *GainProcessor) ID() string {
	return gp.id
}

// Apply multiplies samples by the gain in place and clamps them to [-1, 1]
func (gp *GainProcessor) Apply(samples []float32) {
	gain := float32(gp.GetGain())
	if gain == 1.0 {
		return
	}

	for i, s := range samples {
		amplified := s * gain
		if amplified > 1.0 {
			amplified = 1.0
		} else if amplified < -1.0 {
			amplified = -1.0
		}
		samples[i] = amplified
	}
}

// Process returns a copy of input with the gain applied. Unity gain returns
// input unchanged.
func (gp *GainProcessor) Process(ctx context.Context, input *audiocore.Buffer) (*audiocore.Buffer, error) {
	if input == nil {
		return nil, errors.Newf("input buffer is nil").
			Component(audiocore.ComponentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if gp.GetGain() == 1.0 {
		return input, nil
	}

	out := *input
	out.Samples = make([]float32, len(input.Samples))
	copy(out.Samples, input.Samples)
	gp.Apply(out.Samples)
	return &out, nil
}

// SetGain updates the gain value
func (gp *GainProcessor) SetGain(gain float64) error {
	if err := validateGain(gain); err != nil {
		return err
	}

	gp.gain.Store(math.Float64bits(gain))
	gp.log.Debug("gain updated", logger.Float64("new_gain", gain))
	return nil
}

// GetGain returns the current gain value
func (gp *GainProcessor) GetGain() float64 {
	return math.Float64frombits(gp.gain.Load())
}
