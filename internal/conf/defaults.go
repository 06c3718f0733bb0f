// defaults.go: default configuration values for trackmix
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/logger"
)

// setDefaultConfig registers a default for every key so that environment
// overrides and Unmarshal see the full key set.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("audio.samplerate", audiocore.DefaultSampleRate)
	v.SetDefault("audio.bitrate", audiocore.DefaultBitRate)
	v.SetDefault("audio.container", string(audiocore.FormatM4A))
	v.SetDefault("audio.micgain", audiocore.DefaultMicGain)
	v.SetDefault("audio.silencethreshold", audiocore.DefaultSilenceThreshold)
	v.SetDefault("audio.minactiveduration", audiocore.DefaultMinActiveDuration)
	v.SetDefault("audio.maxmicrophones", audiocore.DefaultMaxMicrophones)
	v.SetDefault("audio.queuesize", audiocore.DefaultQueueSize)
	v.SetDefault("audio.maxduration", time.Duration(0))
	v.SetDefault("audio.excludedevices", []string{})
	v.SetDefault("audio.systemdevice", "")
	v.SetDefault("audio.ffmpegpath", "")

	v.SetDefault("remix.pollinterval", audiocore.DefaultPollInterval)
	v.SetDefault("remix.classifier", ClassifierNone)
	v.SetDefault("remix.classifiertimeout", audiocore.DefaultClassifierTimeout)
	v.SetDefault("remix.concurrency", 4)
	v.SetDefault("remix.rejecteddir", "")
	v.SetDefault("remix.deleteoriginals", false)
	v.SetDefault("remix.deleteinactive", true)
	v.SetDefault("remix.outputname", "segment")

	v.SetDefault("remix.silero.modelpath", "")
	v.SetDefault("remix.silero.threshold", 0.5)
	v.SetDefault("remix.silero.minsilenceduration", 300*time.Millisecond)
	v.SetDefault("remix.silero.speechpad", 30*time.Millisecond)
	v.SetDefault("remix.silero.minspeech", 250*time.Millisecond)

	v.SetDefault("segment.length", 5*time.Minute)
	v.SetDefault("segment.outputdir", "segments")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("metrics.listen", "")

	v.SetDefault("logging.defaultlevel", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.fileoutput.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.fileoutput.path", logger.DefaultLogPath)
	v.SetDefault("logging.fileoutput.maxsize", logger.DefaultMaxSize)
	v.SetDefault("logging.fileoutput.maxage", logger.DefaultMaxAge)
	v.SetDefault("logging.fileoutput.maxrotatedfiles", logger.DefaultMaxRotatedFiles)
	v.SetDefault("logging.fileoutput.compress", false)
	v.SetDefault("logging.fileoutput.level", logger.DefaultLogLevel)
}
