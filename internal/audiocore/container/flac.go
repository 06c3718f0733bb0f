package container

import (
	"context"
	"encoding/binary"
	"io"
	"os"

	"github.com/tphakala/flac"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/dsp"
	"github.com/tphakala/trackmix/internal/errors"
)

// FLACBackend reads FLAC files. Writing FLAC is not supported.
type FLACBackend struct{}

// Name implements Backend
func (FLACBackend) Name() string { return "flac" }

// Create implements Backend and always fails
func (FLACBackend) Create(path string, _ audiocore.EncoderSettings) (Writer, error) {
	return nil, errors.Newf("flac output is not supported").
		Component(ComponentContainer).
		Category(errors.CategoryValidation).
		FileContext(path, 0).
		Build()
}

// Open implements Backend
func (FLACBackend) Open(_ context.Context, path string, sampleRate int) (Reader, error) {
	return OpenFLAC(path, sampleRate)
}

// OpenFLAC decodes a FLAC file and exposes each channel as a track at
// sampleRate. A sampleRate of 0 keeps the file's rate.
func OpenFLAC(path string, sampleRate int) (Reader, error) {
	f, err := os.Open(path) //nolint:gosec // G304: caller supplied input file
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentContainer).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("operation", "open_flac").
			Build()
	}
	defer func() { _ = f.Close() }()

	decoder, err := flac.NewDecoder(f)
	if err != nil {
		return nil, invalidFile(path, err.Error())
	}

	bitDepth := decoder.BitsPerSample
	channels := decoder.NChannels
	if bitDepth != 16 && bitDepth != 24 && bitDepth != 32 {
		return nil, invalidFile(path, "unsupported bit depth")
	}
	if channels < 1 || decoder.SampleRate <= 0 {
		return nil, invalidFile(path, "missing channel or rate information")
	}

	bytesPerSample := bitDepth / 8
	frameSize := bytesPerSample * channels
	tracks := make([][]float32, channels)
	if decoder.TotalSamples > 0 {
		for c := range tracks {
			tracks[c] = make([]float32, 0, int(decoder.TotalSamples))
		}
	}

	for {
		frame, err := decoder.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, errors.New(err).
				Component(ComponentContainer).
				Category(errors.CategoryFileIO).
				FileContext(path, 0).
				Context("operation", "decode_flac").
				Build()
		}

		for i := 0; i+frameSize <= len(frame); i += frameSize {
			for c := range channels {
				off := i + c*bytesPerSample
				tracks[c] = append(tracks[c], dsp.PCMToFloat(decodeSample(frame[off:], bitDepth), bitDepth))
			}
		}
	}

	return newMemoryReader(tracks, decoder.SampleRate, sampleRate)
}

// decodeSample reads one little-endian signed sample
func decodeSample(b []byte, bitDepth int) int {
	switch bitDepth {
	case 16:
		return int(int16(binary.LittleEndian.Uint16(b)))
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		// sign extend from 24 bits
		return int(v<<8) >> 8
	default:
		return int(int32(binary.LittleEndian.Uint32(b)))
	}
}
