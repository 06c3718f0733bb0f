// conf/validate.go

package conf

import (
	"fmt"
	"strings"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/processors"
	"github.com/tphakala/trackmix/internal/errors"
)

// Speech classifier names accepted in remix.classifier
const (
	ClassifierNone   = "none"
	ClassifierSilero = "silero"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateAudioSettings(&settings.Audio)...)
	ve.Errors = append(ve.Errors, validateRemixSettings(&settings.Remix)...)
	ve.Errors = append(ve.Errors, validateSegmentSettings(&settings.Segment)...)

	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "sentry.dsn is required when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateAudioSettings(a *AudioSettings) []string {
	var errs []string

	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Sprintf("audio.samplerate must be positive, got %d", a.SampleRate))
	}
	if a.MicGain < 0 || a.MicGain > processors.MaxGain {
		errs = append(errs, fmt.Sprintf("audio.micgain must be within [0, %g], got %g", processors.MaxGain, a.MicGain))
	}
	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("audio.silencethreshold must be within [0, 1], got %g", a.SilenceThreshold))
	}
	if a.MinActiveDuration < 0 {
		errs = append(errs, "audio.minactiveduration must not be negative")
	}
	if a.MaxMicrophones < 1 {
		errs = append(errs, fmt.Sprintf("audio.maxmicrophones must be at least 1, got %d", a.MaxMicrophones))
	}
	if a.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("audio.queuesize must be at least 1, got %d", a.QueueSize))
	}
	if a.MaxDuration < 0 {
		errs = append(errs, "audio.maxduration must not be negative")
	}
	if _, err := audiocore.ParseContainerFormat(a.Container); err != nil {
		errs = append(errs, fmt.Sprintf("audio.container: unsupported format %q", a.Container))
	}

	return errs
}

func validateRemixSettings(r *RemixSettings) []string {
	var errs []string

	switch strings.ToLower(r.Classifier) {
	case ClassifierNone, "":
	case ClassifierSilero:
		if r.Silero.Threshold <= 0 || r.Silero.Threshold >= 1 {
			errs = append(errs, fmt.Sprintf("remix.silero.threshold must be within (0, 1), got %g", r.Silero.Threshold))
		}
	default:
		errs = append(errs, fmt.Sprintf("remix.classifier: unknown classifier %q", r.Classifier))
	}

	if r.PollInterval <= 0 {
		errs = append(errs, "remix.pollinterval must be positive")
	}
	if r.ClassifierTimeout <= 0 {
		errs = append(errs, "remix.classifiertimeout must be positive")
	}
	if r.Concurrency < 1 {
		errs = append(errs, fmt.Sprintf("remix.concurrency must be at least 1, got %d", r.Concurrency))
	}
	if r.OutputName == "" || strings.ContainsAny(r.OutputName, `/\`) {
		errs = append(errs, fmt.Sprintf("remix.outputname must be a plain file name, got %q", r.OutputName))
	}

	return errs
}

func validateSegmentSettings(s *SegmentSettings) []string {
	var errs []string
	if s.Length <= 0 {
		errs = append(errs, "segment.length must be positive")
	}
	if s.OutputDir == "" {
		errs = append(errs, "segment.outputdir must not be empty")
	}
	return errs
}
