package encoder

import (
	"sync"
	"time"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/container"
	"github.com/tphakala/trackmix/internal/errors"
)

type appendCall struct {
	track   int
	samples int
	pts     time.Duration
}

// fakeWriter records how an encoder drives its container
type fakeWriter struct {
	mu        sync.Mutex
	path      string
	tracks    []audiocore.SourceType
	finished  []bool
	sessions  int
	appends   []appendCall
	end       time.Duration
	finalizes int
	cancelled bool
	notReady  bool
	failWith  error
	status    container.Status
	done      chan struct{}
	once      sync.Once
}

func newFakeWriter(path string) *fakeWriter {
	return &fakeWriter{path: path, done: make(chan struct{})}
}

func (w *fakeWriter) factory() container.Factory {
	return func(string, audiocore.EncoderSettings) (container.Writer, error) {
		return w, nil
	}
}

func (w *fakeWriter) AddTrack(source audiocore.SourceType) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracks = append(w.tracks, source)
	w.finished = append(w.finished, false)
	return len(w.tracks) - 1, nil
}

func (w *fakeWriter) StartSession() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessions++
	w.status = container.StatusWriting
	return nil
}

func (w *fakeWriter) ReadyForMoreData(int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.notReady
}

func (w *fakeWriter) setReady(ready bool) {
	w.mu.Lock()
	w.notReady = !ready
	w.mu.Unlock()
}

func (w *fakeWriter) Append(track int, samples []float32, pts time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appends = append(w.appends, appendCall{track: track, samples: len(samples), pts: pts})
	return nil
}

func (w *fakeWriter) MarkTrackFinished(track int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if track < 0 || track >= len(w.finished) {
		return errors.NewStd("no such track")
	}
	w.finished[track] = true
	return nil
}

func (w *fakeWriter) EndSession(at time.Duration) {
	w.mu.Lock()
	w.end = at
	w.mu.Unlock()
}

func (w *fakeWriter) Finalize() <-chan struct{} {
	w.mu.Lock()
	w.finalizes++
	w.mu.Unlock()
	w.once.Do(func() {
		go func() {
			w.mu.Lock()
			if w.failWith != nil {
				w.status = container.StatusFailed
			} else {
				w.status = container.StatusCompleted
			}
			w.mu.Unlock()
			close(w.done)
		}()
	})
	return w.done
}

func (w *fakeWriter) Status() container.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *fakeWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failWith
}

func (w *fakeWriter) Cancel() {
	w.mu.Lock()
	w.cancelled = true
	w.status = container.StatusCancelled
	w.mu.Unlock()
}

func (w *fakeWriter) Path() string { return w.path }

func (w *fakeWriter) snapshot() (appends []appendCall, sessions, finalizes int, end time.Duration, cancelled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]appendCall(nil), w.appends...), w.sessions, w.finalizes, w.end, w.cancelled
}
