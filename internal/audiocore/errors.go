package audiocore

import (
	"github.com/tphakala/trackmix/internal/errors"
)

// ComponentAudioCore identifies errors raised by the core engine
const ComponentAudioCore = "audiocore"

var (
	// ErrNothingToWrite is returned by the remixer when no source survives filtering
	ErrNothingToWrite = errors.New(errors.NewStd("nothing to write")).
		Component(ComponentAudioCore).
		Category(errors.CategoryNotFound).
		Context("resource", "segment_sources").
		Build()

	// ErrWriteFailed wraps the cause of a container that did not complete
	ErrWriteFailed = errors.New(errors.NewStd("container write failed")).
		Component(ComponentAudioCore).
		Category(errors.CategoryFileIO).
		Context("operation", "finalize").
		Build()

	// ErrWriterNotReady is returned when a track is added after finalizing began
	ErrWriterNotReady = errors.New(errors.NewStd("writer not ready")).
		Component(ComponentAudioCore).
		Category(errors.CategoryState).
		Context("resource", "container_writer").
		Build()

	// ErrInvalidFormat is returned when a device or file reports an unusable format
	ErrInvalidFormat = errors.New(errors.NewStd("invalid audio format")).
		Component(ComponentAudioCore).
		Category(errors.CategoryValidation).
		Context("resource", "audio_format").
		Build()

	// ErrTapInstall is returned when the hardware tap could not be installed
	ErrTapInstall = errors.New(errors.NewStd("failed to install input tap")).
		Component(ComponentAudioCore).
		Category(errors.CategoryAudioSource).
		Context("operation", "install_tap").
		Build()

	// ErrRecoveryInProgress rejects a device reconfiguration while another runs
	ErrRecoveryInProgress = errors.New(errors.NewStd("device recovery already in progress")).
		Component(ComponentAudioCore).
		Category(errors.CategoryConflict).
		Context("operation", "reconfigure").
		Build()

	// ErrNoTracksAttached is returned when no source could be added to the output container
	ErrNoTracksAttached = errors.New(errors.NewStd("no tracks could be attached")).
		Component(ComponentAudioCore).
		Category(errors.CategoryProcessing).
		Context("operation", "attach_tracks").
		Build()

	// ErrNoMicrophones is returned when devices exist but none could be started
	ErrNoMicrophones = errors.New(errors.NewStd("no microphone could be started")).
		Component(ComponentAudioCore).
		Category(errors.CategoryAudioSource).
		Context("resource", "microphone").
		Build()

	// ErrSourceStopped is returned when pushing to an adapter that is not running
	ErrSourceStopped = errors.New(errors.NewStd("audio source is not running")).
		Component(ComponentAudioCore).
		Category(errors.CategoryState).
		Context("resource", "audio_source").
		Build()
)
