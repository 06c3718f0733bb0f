package audiocore

import (
	"fmt"
	"strings"
	"time"

	"github.com/tphakala/trackmix/internal/errors"
)

// SourceKind discriminates the variants of SourceType
type SourceKind int

const (
	SourceSystemAudio SourceKind = iota
	SourceMicrophone
)

func (k SourceKind) String() string {
	switch k {
	case SourceSystemAudio:
		return "system"
	case SourceMicrophone:
		return "microphone"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k SourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *SourceKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "system":
		*k = SourceSystemAudio
	case "microphone":
		*k = SourceMicrophone
	default:
		return errors.Newf("unknown source kind %q", string(text)).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// SourceType identifies where a track's audio comes from. It is a value type
// and never changes once assigned to a track.
type SourceType struct {
	Kind        SourceKind `yaml:"kind"`
	DisplayName string     `yaml:"name,omitempty"`      // microphones only
	DeviceID    string     `yaml:"device_id,omitempty"` // stable device UID, microphones only
}

// SystemAudio returns the system audio source type
func SystemAudio() SourceType {
	return SourceType{Kind: SourceSystemAudio}
}

// Microphone returns a microphone source type
func Microphone(displayName, deviceID string) SourceType {
	return SourceType{Kind: SourceMicrophone, DisplayName: displayName, DeviceID: deviceID}
}

// IsSystemAudio reports whether s is the system audio source
func (s SourceType) IsSystemAudio() bool {
	return s.Kind == SourceSystemAudio
}

// Key returns the identity used for track naming and exclusion lists
func (s SourceType) Key() string {
	if s.IsSystemAudio() {
		return "system"
	}
	return "mic:" + s.DeviceID
}

func (s SourceType) String() string {
	if s.IsSystemAudio() {
		return "system audio"
	}
	if s.DisplayName != "" {
		return fmt.Sprintf("microphone %q", s.DisplayName)
	}
	return "microphone " + s.DeviceID
}

// FileName returns the conventional per-source file name for s
func (s SourceType) FileName(format ContainerFormat) string {
	if s.IsSystemAudio() {
		return "system" + format.Extension()
	}
	return "mic-" + sanitizeID(s.DeviceID) + format.Extension()
}

func sanitizeID(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// Buffer is a timed block of mono float32 PCM samples. The encoder that
// receives a Buffer owns it; producers copy before handing it over.
type Buffer struct {
	Samples    []float32     // mono PCM in [-1, 1]
	SampleRate int           // samples per second
	Timestamp  time.Time     // host clock time of the first sample
	Duration   time.Duration // derived from len(Samples) and SampleRate
}

// NewBuffer builds a Buffer and derives its duration
func NewBuffer(samples []float32, sampleRate int, ts time.Time) Buffer {
	return Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Timestamp:  ts,
		Duration:   FramesToDuration(len(samples), sampleRate),
	}
}

// Frames returns the number of sample frames in the buffer
func (b *Buffer) Frames() int {
	return len(b.Samples)
}

// FramesToDuration converts a frame count at rate into a duration
func FramesToDuration(frames, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}

// DurationToFrames converts d into a frame count at rate, rounding to nearest
func DurationToFrames(d time.Duration, rate int) int64 {
	if rate <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}

// SourceTimingInfo records where a per-source file sits on the segment
// timeline. It is produced once, when the source's encoder finishes.
type SourceTimingInfo struct {
	Source      SourceType    `yaml:"source"`
	StartOffset time.Duration `yaml:"start_offset"` // first buffer relative to the segment anchor
	EndOffset   time.Duration `yaml:"end_offset"`   // last buffer relative to the segment anchor
	HasAudio    bool          `yaml:"has_audio"`    // false when no buffer ever arrived
}

// Span returns EndOffset - StartOffset
func (t SourceTimingInfo) Span() time.Duration {
	return t.EndOffset - t.StartOffset
}

// ContainerFormat selects the container backend for encoded output
type ContainerFormat string

const (
	FormatM4A ContainerFormat = "m4a" // AAC in fragmented MP4, via ffmpeg
	FormatWAV ContainerFormat = "wav" // 16-bit PCM, one channel per track
)

// Extension returns the file extension including the dot
func (f ContainerFormat) Extension() string {
	return "." + string(f)
}

// ParseContainerFormat validates a configured container name
func ParseContainerFormat(s string) (ContainerFormat, error) {
	switch ContainerFormat(strings.ToLower(strings.TrimPrefix(s, "."))) {
	case FormatM4A:
		return FormatM4A, nil
	case FormatWAV:
		return FormatWAV, nil
	default:
		return "", errors.Newf("unsupported container format %q", s).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("format", s).
			Build()
	}
}

// EncoderSettings is the immutable audio configuration handed to every
// encoder. It is passed by value so instances never share state.
type EncoderSettings struct {
	SampleRate  int
	BitRate     string
	Format      ContainerFormat
	MaxDuration time.Duration // 0 disables truncation
	FFmpegPath  string
}

// DefaultEncoderSettings returns mono 48 kHz AAC settings
func DefaultEncoderSettings() EncoderSettings {
	return EncoderSettings{
		SampleRate: DefaultSampleRate,
		BitRate:    DefaultBitRate,
		Format:     FormatM4A,
	}
}

// WithFormat returns a copy of s using format
func (s EncoderSettings) WithFormat(format ContainerFormat) EncoderSettings {
	s.Format = format
	return s
}

// WithMaxDuration returns a copy of s with the truncation limit set
func (s EncoderSettings) WithMaxDuration(d time.Duration) EncoderSettings {
	s.MaxDuration = d
	return s
}

// Validate checks the settings for values no backend can handle
func (s EncoderSettings) Validate() error {
	if s.SampleRate <= 0 {
		return errors.New(fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, s.SampleRate)).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}
	if s.MaxDuration < 0 {
		return errors.Newf("negative max duration %s", s.MaxDuration).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Build()
	}
	if _, err := ParseContainerFormat(string(s.Format)); err != nil {
		return err
	}
	return nil
}

// PayloadKind tags buffers delivered by a screen capture stream
type PayloadKind int

const (
	PayloadVideo PayloadKind = iota
	PayloadSystemAudio
	PayloadMicrophone
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadVideo:
		return "video"
	case PayloadSystemAudio:
		return "system_audio"
	case PayloadMicrophone:
		return "microphone"
	default:
		return fmt.Sprintf("payload(%d)", int(k))
	}
}
