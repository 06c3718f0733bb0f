package remix

import (
	"strings"

	"github.com/tphakala/trackmix/internal/audiocore/speech"
	"github.com/tphakala/trackmix/internal/conf"
	"github.com/tphakala/trackmix/internal/logger"
	"github.com/tphakala/trackmix/internal/observability/metrics"
)

// ConfigFromSettings builds the remixer configuration from loaded settings.
// A configured classifier that cannot be created is logged and disabled, so
// sources are kept rather than lost.
func ConfigFromSettings(settings *conf.Settings, m *metrics.RemixMetrics) Config {
	cfg := Config{
		Settings:          settings.Encoder(),
		ClassifierTimeout: settings.Remix.ClassifierTimeout,
		Concurrency:       settings.Remix.Concurrency,
		PollInterval:      settings.Remix.PollInterval,
		Metrics:           m,
	}

	if strings.EqualFold(settings.Remix.Classifier, conf.ClassifierSilero) {
		s := settings.Remix.Silero
		classifier, err := speech.NewSilero(speech.SileroConfig{
			ModelPath:          s.ModelPath,
			Threshold:          s.Threshold,
			MinSilenceDuration: s.MinSilenceDuration,
			SpeechPad:          s.SpeechPad,
			MinSpeech:          s.MinSpeech,
			FFmpegPath:         settings.Audio.FfmpegPath,
		})
		if err != nil {
			GetLogger().Warn("speech classifier disabled", logger.Error(err))
		} else {
			cfg.Classifier = classifier
		}
	}
	return cfg
}

// OptionsFromSettings returns the per-call options configured in settings
func OptionsFromSettings(settings *conf.Settings) Options {
	return Options{
		DeleteOriginals: settings.Remix.DeleteOriginals,
		RejectedDir:     settings.Remix.RejectedDir,
	}
}
