package audiocore

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

// ManifestFileName is the sidecar written next to a segment's source files
const ManifestFileName = "manifest.yaml"

// ManifestEntry pairs a finished per-source file with its timing
type ManifestEntry struct {
	Path   string           `yaml:"path"`
	Timing SourceTimingInfo `yaml:"timing"`
}

// Manifest is the ordered input of a remix. Order determines track order.
type Manifest struct {
	SegmentID string          `yaml:"segment_id,omitempty"`
	Anchor    time.Time       `yaml:"anchor,omitempty"`
	Entries   []ManifestEntry `yaml:"entries"`
}

// Add appends a source file to the manifest
func (m *Manifest) Add(path string, timing SourceTimingInfo) {
	m.Entries = append(m.Entries, ManifestEntry{Path: path, Timing: timing})
}

// Paths returns every file referenced by the manifest
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Entries))
	for i := range m.Entries {
		paths = append(paths, m.Entries[i].Path)
	}
	return paths
}

// SortSystemFirst moves the system audio entry to the front so it lands on
// SystemTrackIndex. Relative order of the rest is preserved.
func (m *Manifest) SortSystemFirst() {
	slices.SortStableFunc(m.Entries, func(a, b ManifestEntry) int {
		switch {
		case a.Timing.Source.IsSystemAudio() && !b.Timing.Source.IsSystemAudio():
			return -1
		case !a.Timing.Source.IsSystemAudio() && b.Timing.Source.IsSystemAudio():
			return 1
		default:
			return 0
		}
	})
}

// Save writes the manifest into dir. Paths inside dir are stored relative
// to it so the directory can be moved.
func (m *Manifest) Save(dir string) error {
	out := Manifest{SegmentID: m.SegmentID, Anchor: m.Anchor}
	for _, e := range m.Entries {
		if rel, err := filepath.Rel(dir, e.Path); err == nil && !strings.HasPrefix(rel, "..") {
			e.Path = rel
		}
		out.Entries = append(out.Entries, e)
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return errors.New(err).
			Component(ComponentAudioCore).
			Category(errors.CategoryProcessing).
			Context("operation", "marshal_manifest").
			Build()
	}

	target := filepath.Join(dir, ManifestFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(err).
			Component(ComponentAudioCore).
			Category(errors.CategoryFileIO).
			Context("operation", "write_manifest").
			Build()
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return errors.New(err).
			Component(ComponentAudioCore).
			Category(errors.CategoryFileIO).
			Context("operation", "rename_manifest").
			Build()
	}
	return nil
}

// LoadManifest reads dir's manifest and resolves relative paths against dir.
// A missing manifest is reported with errors.CategoryNotFound.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		category := errors.CategoryFileIO
		if os.IsNotExist(err) {
			category = errors.CategoryNotFound
		}
		return Manifest{}, errors.New(err).
			Component(ComponentAudioCore).
			Category(category).
			Context("operation", "read_manifest").
			Build()
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, errors.New(fmt.Errorf("parse %s: %w", ManifestFileName, err)).
			Component(ComponentAudioCore).
			Category(errors.CategoryValidation).
			Context("operation", "parse_manifest").
			Build()
	}

	for i := range m.Entries {
		if !filepath.IsAbs(m.Entries[i].Path) {
			m.Entries[i].Path = filepath.Join(dir, m.Entries[i].Path)
		}
	}
	return m, nil
}

// InferManifest builds a manifest from file names alone, for directories
// recorded without a sidecar. "system.<ext>" becomes the system track and
// "mic-<id>.<ext>" a microphone; all offsets are zero.
func InferManifest(dir string) (Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Manifest{}, errors.New(err).
			Component(ComponentAudioCore).
			Category(errors.CategoryFileIO).
			Context("operation", "scan_segment_dir").
			Build()
	}

	var m Manifest
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if !isAudioExtension(ext) {
			continue
		}
		stem := strings.TrimSuffix(name, ext)

		var source SourceType
		switch {
		case stem == "system":
			source = SystemAudio()
		case strings.HasPrefix(stem, "mic-"):
			id := strings.TrimPrefix(stem, "mic-")
			source = Microphone(id, id)
		default:
			GetLogger().Debug("ignoring unrecognized audio file", logger.String("dir", dir), logger.String("file", name))
			continue
		}
		m.Add(filepath.Join(dir, name), SourceTimingInfo{Source: source, HasAudio: true})
	}

	m.SortSystemFirst()
	return m, nil
}

func isAudioExtension(ext string) bool {
	switch strings.ToLower(ext) {
	case ".m4a", ".mp4", ".wav", ".flac":
		return true
	default:
		return false
	}
}
