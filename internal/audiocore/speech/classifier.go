// Package speech decides whether a finalized per-source recording contains
// speech. Classification is advisory: any failure keeps the recording.
package speech

import (
	"context"
	"time"

	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

// Verdict is the outcome of a classification
type Verdict int

const (
	// Unavailable means no decision could be made
	Unavailable Verdict = iota
	SpeechDetected
	NoSpeech
)

func (v Verdict) String() string {
	switch v {
	case SpeechDetected:
		return "speech"
	case NoSpeech:
		return "no_speech"
	default:
		return "unavailable"
	}
}

// Result carries a verdict and a human readable reason
type Result struct {
	Verdict Verdict
	Reason  string
}

// Keep reports whether the source should be kept. Only an explicit NoSpeech
// verdict drops a source.
func (r Result) Keep() bool {
	return r.Verdict != NoSpeech
}

// Detected returns a SpeechDetected result
func Detected(reason string) Result { return Result{Verdict: SpeechDetected, Reason: reason} }

// Silent returns a NoSpeech result
func Silent(reason string) Result { return Result{Verdict: NoSpeech, Reason: reason} }

// Unknown returns an Unavailable result
func Unknown(reason string) Result { return Result{Verdict: Unavailable, Reason: reason} }

// Classifier inspects a finalized audio file
type Classifier interface {
	Classify(ctx context.Context, path string) Result
}

// ClassifierFunc adapts a function to Classifier
type ClassifierFunc func(ctx context.Context, path string) Result

// Classify implements Classifier
func (f ClassifierFunc) Classify(ctx context.Context, path string) Result {
	return f(ctx, path)
}

// Disabled is the classifier used when none is configured
type Disabled struct{}

// Classify implements Classifier
func (Disabled) Classify(context.Context, string) Result {
	return Unknown("classifier disabled")
}

type timeoutClassifier struct {
	inner   Classifier
	timeout time.Duration
}

// WithTimeout bounds every call to c. A call that runs past d, or whose
// context is cancelled, yields Unavailable.
func WithTimeout(c Classifier, d time.Duration) Classifier {
	if d <= 0 {
		return c
	}
	return &timeoutClassifier{inner: c, timeout: d}
}

func (t *timeoutClassifier) Classify(ctx context.Context, path string) Result {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// buffered so the classifier goroutine never leaks on timeout
	ch := make(chan Result, 1)
	go func() {
		ch <- t.inner.Classify(ctx, path)
	}()

	select {
	case res := <-ch:
		if ctx.Err() == nil {
			return res
		}
	case <-ctx.Done():
	}

	GetLogger().Debug("classification abandoned",
		logger.String("path", path),
		logger.Duration("timeout", t.timeout),
		logger.Error(ctx.Err()))
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Unknown("classification timed out")
	}
	return Unknown("classification cancelled")
}

// GetLogger returns the speech module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("speech")
}
