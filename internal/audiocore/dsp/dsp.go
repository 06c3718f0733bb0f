// Package dsp holds the small sample-level transforms applied between capture
// and encoding.
package dsp

import (
	"math"

	"github.com/tphakala/trackmix/internal/errors"
)

// Resample converts audio from originalRate to targetRate using cubic
// interpolation. The input is returned unchanged when the rates match.
func Resample(audio []float32, originalRate, targetRate int) ([]float32, error) {
	if originalRate <= 0 || targetRate <= 0 {
		return nil, errors.Newf("invalid resample rates %d -> %d", originalRate, targetRate).
			Component("dsp").
			Category(errors.CategoryValidation).
			Build()
	}
	if originalRate == targetRate || len(audio) == 0 {
		return audio, nil
	}

	ratio := float64(targetRate) / float64(originalRate)
	newLength := int(int64(len(audio)) * int64(targetRate) / int64(originalRate))
	resampled := make([]float32, newLength)

	// cubic interpolation needs four neighbours
	if len(audio) < 4 {
		resampleLinear(audio, resampled, ratio)
		return resampled, nil
	}

	lastIndex := len(audio) - 3

	for i := range newLength {
		origPos := float64(i) / ratio
		index := int(origPos)

		if index < 1 {
			index = 1
		} else if index > lastIndex {
			index = lastIndex
		}

		frac := float32(origPos - float64(index))

		y0, y1, y2, y3 := audio[index-1], audio[index], audio[index+1], audio[index+2]
		mu2 := frac * frac
		a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
		a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
		a2 := -0.5*y0 + 0.5*y2
		a3 := y1

		resampled[i] = a0*frac*mu2 + a1*mu2 + a2*frac + a3
	}

	return resampled, nil
}

func resampleLinear(in, out []float32, ratio float64) {
	last := len(in) - 1
	for i := range out {
		pos := float64(i) / ratio
		idx := int(pos)
		if idx >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx] + (in[idx+1]-in[idx])*frac
	}
}

// Downmix averages interleaved multi-channel audio into mono. Mono input is
// copied. A trailing partial frame is dropped.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}

	frames := len(interleaved) / channels
	out := make([]float32, frames)
	scale := 1 / float32(channels)
	for f := range frames {
		var sum float32
		base := f * channels
		for c := range channels {
			sum += interleaved[base+c]
		}
		out[f] = sum * scale
	}
	return out
}

// RMS returns the root mean square of samples, or 0 for an empty slice
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Clamp limits every sample to [-1, 1] in place
func Clamp(samples []float32) {
	for i, s := range samples {
		if s > 1 {
			samples[i] = 1
		} else if s < -1 {
			samples[i] = -1
		}
	}
}

// FloatToPCM16 converts a sample in [-1, 1] to a signed 16-bit value
func FloatToPCM16(s float32) int {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int(math.Round(float64(s) * math.MaxInt16))
}

// PCMToFloat converts a signed integer sample of the given bit depth to [-1, 1]
func PCMToFloat(v, bitDepth int) float32 {
	if bitDepth <= 0 {
		return 0
	}
	full := float32(int64(1) << (bitDepth - 1))
	return float32(v) / full
}
