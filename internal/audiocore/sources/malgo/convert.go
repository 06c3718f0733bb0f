package malgo

import (
	"encoding/binary"
	"math"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/trackmix/internal/errors"
)

// bytesPerSample returns the sample size of format, or 0 when unsupported
func bytesPerSample(format malgo.FormatType) int {
	switch format {
	case malgo.FormatU8:
		return 1
	case malgo.FormatS16:
		return 2
	case malgo.FormatS24:
		return 3
	case malgo.FormatS32, malgo.FormatF32:
		return 4
	default:
		return 0
	}
}

// convertToFloat32 decodes little-endian samples of format into out, which
// is grown as needed and returned. Values are scaled to [-1, 1].
func convertToFloat32(samples []byte, format malgo.FormatType, out []float32) ([]float32, error) {
	size := bytesPerSample(format)
	if size == 0 {
		return nil, errors.Newf("unsupported sample format %d", int(format)).
			Component(ComponentMalgo).
			Category(errors.CategoryValidation).
			Build()
	}

	count := len(samples) / size
	if cap(out) < count {
		out = make([]float32, count)
	}
	out = out[:count]

	for i := range count {
		b := samples[i*size : i*size+size]
		switch format {
		case malgo.FormatU8:
			out[i] = (float32(b[0]) - 128) / 128
		case malgo.FormatS16:
			out[i] = float32(int16(binary.LittleEndian.Uint16(b))) / 32768
		case malgo.FormatS24:
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= -0x1000000
			}
			out[i] = float32(v) / 8388608
		case malgo.FormatS32:
			out[i] = float32(float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648)
		case malgo.FormatF32:
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
		}
	}
	return out, nil
}
