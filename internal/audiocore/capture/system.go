package capture

import (
	"github.com/tphakala/trackmix/internal/audiocore"
)

// SystemAudioAdapter receives system audio delivered by the screen capture
// stream through a StreamRouter. System audio is never gained.
type SystemAudioAdapter struct {
	*adapter
}

// NewSystemAudioAdapter creates an adapter feeding sink
func NewSystemAudioAdapter(sink Sink, cfg Config) *SystemAudioAdapter {
	return &SystemAudioAdapter{adapter: newAdapter(audiocore.SystemAudio(), sink, cfg, nil)}
}

// Start begins processing pushed buffers
func (s *SystemAudioAdapter) Start() {
	s.startWorker()
	s.cfg.Metrics.SetActiveSources(audiocore.SourceSystemAudio.String(), 1)
}

// Stop drains queued buffers and stops the worker. The stream itself is
// owned by the screen capture collaborator.
func (s *SystemAudioAdapter) Stop() {
	s.stopWorker()
	s.cfg.Metrics.SetActiveSources(audiocore.SourceSystemAudio.String(), 0)
}
