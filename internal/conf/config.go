// config.go: trackmix configuration
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is prepended to environment overrides, e.g. TRACKMIX_AUDIO_MICGAIN
const EnvPrefix = "TRACKMIX"

// AudioSettings configures capture and per-source encoding
type AudioSettings struct {
	SampleRate        int           // output sample rate of every track
	BitRate           string        // AAC bit rate, e.g. 128k
	Container         string        // m4a or wav
	MicGain           float64       // linear gain applied to microphone input
	SilenceThreshold  float64       // RMS level above which a buffer counts as active
	MinActiveDuration time.Duration // active audio needed to keep a microphone
	MaxMicrophones    int           // concurrently recorded microphones
	QueueSize         int           // per-source hand-off queue depth
	MaxDuration       time.Duration // per-file truncation, 0 disables
	ExcludeDevices    []string      // device IDs never recorded
	SystemDevice      string        // loopback or monitor device recorded as system audio
	FfmpegPath        string        // explicit ffmpeg binary, empty searches PATH
}

// RemixSettings configures the segment remixer
type RemixSettings struct {
	PollInterval      time.Duration // pump back-off when no track made progress
	Classifier        string        // none or silero
	ClassifierTimeout time.Duration // bound for a single classification
	Concurrency       int           // parallel classifications
	RejectedDir       string        // keep rejected sources here instead of deleting them
	DeleteOriginals   bool          // remove per-source files after a successful remix
	DeleteInactive    bool          // drop silent microphone files on rotation
	OutputName        string        // file name of the merged segment

	Silero SileroSettings
}

// SileroSettings configures the silero speech classifier
type SileroSettings struct {
	ModelPath          string
	Threshold          float32
	MinSilenceDuration time.Duration
	SpeechPad          time.Duration
	MinSpeech          time.Duration // speech needed for a SpeechDetected verdict
}

// SegmentSettings configures rotation in record mode
type SegmentSettings struct {
	Length    time.Duration // time between rotations
	OutputDir string        // parent directory of segment directories
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// MetricsSettings configures the prometheus endpoint
type MetricsSettings struct {
	Listen string // host:port, empty disables the endpoint
}

// Settings is the complete trackmix configuration. It is read once by Load
// and not modified afterwards.
type Settings struct {
	Debug bool

	Audio   AudioSettings
	Remix   RemixSettings
	Segment SegmentSettings
	Sentry  SentrySettings
	Metrics MetricsSettings
	Logging logger.LoggingConfig

	ConfigFile string `mapstructure:"-"` // file the settings were read from, empty for defaults
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration from configFile, or from the first config.yaml
// found in the default search paths when configFile is empty, applies
// TRACKMIX_* environment overrides and validates the result.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v, err := initViper(configFile)
	if err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}
	settings.ConfigFile = v.ConfigFileUsed()

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper creates a viper instance with defaults and reads the config file.
// A missing config file is not an error; the embedded defaults apply.
func initViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryConfiguration).
				FileContext(configFile, 0).
				Context("operation", "read-config").
				Build()
		}
		return v, nil
	}

	v.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Debug("no config file found, using defaults")
			return v, nil
		}
		return nil, fmt.Errorf("fatal error reading config file: %w", err)
	}

	return v, nil
}

// GetSettings returns the settings returned by the last successful Load
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultConfig returns the embedded default config.yaml
func DefaultConfig() []byte {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// embedded at build time, cannot be missing
		panic(err)
	}
	return data
}

// WriteDefaultConfig writes the embedded default config to path unless a file
// already exists there.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists").
			Category(errors.CategoryConflict).
			FileContext(path, 0).
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create-config-dir").
			Build()
	}
	if err := os.WriteFile(path, DefaultConfig(), 0o644); err != nil { //nolint:gosec // config is not secret
		return errors.New(err).
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Context("operation", "write-default-config").
			Build()
	}
	return nil
}

// Encoder returns the encoder settings derived from the audio section.
// Load has already validated the container name.
func (s *Settings) Encoder() audiocore.EncoderSettings {
	format, err := audiocore.ParseContainerFormat(s.Audio.Container)
	if err != nil {
		format = audiocore.FormatM4A
	}
	return audiocore.EncoderSettings{
		SampleRate:  s.Audio.SampleRate,
		BitRate:     s.Audio.BitRate,
		Format:      format,
		MaxDuration: s.Audio.MaxDuration,
		FFmpegPath:  s.Audio.FfmpegPath,
	}
}
