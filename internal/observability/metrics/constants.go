// Package metrics defines the prometheus collectors exported by trackmix.
package metrics

import "time"

// Drop reasons for buffers that never reach a container
const (
	DropQueueFull    = "queue_full"
	DropNotReady     = "writer_not_ready"
	DropWriteError   = "write_error"
	DropAfterFinish  = "after_finish"
	DropTruncated    = "max_duration"
	DropConvertError = "convert_error"
)

// Skip reasons for sources the remixer leaves out
const (
	SkipNoAudio       = "no_audio"
	SkipMissingFile   = "missing_file"
	SkipNoSpeech      = "no_speech"
	SkipAttachFailure = "attach_failed"
)

// Status labels
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusEmpty   = "empty"
)

// ShutdownTimeout bounds the metrics server shutdown
const ShutdownTimeout = 5 * time.Second
