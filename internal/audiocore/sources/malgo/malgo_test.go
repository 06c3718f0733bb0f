package malgo

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"math"
	"testing"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/trackmix/internal/audiocore/capture"
	"github.com/tphakala/trackmix/internal/errors"
)

func TestConvertToFloat32(t *testing.T) {
	t.Parallel()

	s16 := make([]byte, 4)
	binary.LittleEndian.PutUint16(s16[0:], uint16(16384))
	negHalf := int16(-16384)
	binary.LittleEndian.PutUint16(s16[2:], uint16(negHalf))

	s24 := []byte{0x00, 0x00, 0x40, 0x00, 0x00, 0xC0} // 0.5, -0.5

	s32 := make([]byte, 4)
	binary.LittleEndian.PutUint32(s32, uint32(1<<30))

	f32 := make([]byte, 8)
	binary.LittleEndian.PutUint32(f32[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(f32[4:], math.Float32bits(-0.75))

	tests := []struct {
		name   string
		input  []byte
		format malgo.FormatType
		want   []float32
	}{
		{"u8", []byte{128, 192, 64}, malgo.FormatU8, []float32{0, 0.5, -0.5}},
		{"s16", s16, malgo.FormatS16, []float32{0.5, -0.5}},
		{"s24", s24, malgo.FormatS24, []float32{0.5, -0.5}},
		{"s32", s32, malgo.FormatS32, []float32{0.5}},
		{"f32", f32, malgo.FormatF32, []float32{0.25, -0.75}},
		{"partial sample dropped", s16[:3], malgo.FormatS16, []float32{0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := convertToFloat32(tt.input, tt.format, nil)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, got, 1e-6)
		})
	}
}

func TestConvertReusesScratch(t *testing.T) {
	t.Parallel()

	scratch := make([]float32, 16)
	out, err := convertToFloat32([]byte{128, 128}, malgo.FormatU8, scratch)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Same(t, &scratch[0], &out[0])
}

func TestConvertRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := convertToFloat32([]byte{1, 2}, malgo.FormatUnknown, nil)
	require.Error(t, err)
}

func TestDecodeDeviceID(t *testing.T) {
	t.Parallel()

	encoded := hex.EncodeToString(append([]byte("hw:1,0"), 0, 0, 0))
	assert.Equal(t, "hw:1,0", decodeDeviceID(encoded))
	assert.Equal(t, "not-hex", decodeDeviceID("not-hex"))
	assert.Equal(t, "0000", decodeDeviceID("0000"))
}

func TestIsHardwareDevice(t *testing.T) {
	t.Parallel()

	assert.True(t, isHardwareDevice("linux", ":1,0"))
	assert.False(t, isHardwareDevice("linux", "pulse"))
	assert.True(t, isHardwareDevice("darwin", "BuiltInMicrophoneDevice"))
}

func TestProviderCachesDevices(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{DeviceCacheTTL: time.Minute})
	calls := 0
	p.enumerate = func() ([]capture.DeviceInfo, error) {
		calls++
		return []capture.DeviceInfo{{ID: "hw:1,0", Name: "USB"}}, nil
	}

	ctx := context.Background()
	first, err := p.Devices(ctx)
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := p.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "USB", second[0].Name, "callers get their own copy")

	p.InvalidateDevices()
	_, err = p.Devices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestProviderDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{})
	calls := 0
	p.enumerate = func() ([]capture.DeviceInfo, error) {
		calls++
		return nil, errors.NewStd("backend unavailable")
	}

	_, err := p.Devices(context.Background())
	require.Error(t, err)
	_, err = p.Devices(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Devices(ctx)
	require.ErrorIs(t, err, context.Canceled)
	_, err = p.OpenTap(ctx, capture.DeviceInfo{ID: "x"}, func([]float32, int, int, time.Time) {})
	require.ErrorIs(t, err, context.Canceled)
}
