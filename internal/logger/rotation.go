package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig controls size based log rotation.
type RotationConfig struct {
	MaxSize    int // MB, 0 disables rotation
	MaxAge     int // days
	MaxBackups int
	Compress   bool
}

// IsEnabled reports whether rotation should be applied.
func (rc RotationConfig) IsEnabled() bool {
	return rc.MaxSize > 0
}

// RotationConfigFromFileOutput extracts rotation settings from the main file output.
func RotationConfigFromFileOutput(fo *FileOutput) RotationConfig {
	if fo == nil {
		return RotationConfig{}
	}
	return RotationConfig{
		MaxSize:    fo.MaxSize,
		MaxAge:     fo.MaxAge,
		MaxBackups: fo.MaxRotatedFiles,
		Compress:   fo.Compress,
	}
}

// RotationConfigFromModuleOutput uses the module's size limit and inherits
// everything else from the main file output.
func RotationConfigFromModuleOutput(mo *ModuleOutput, fo *FileOutput) RotationConfig {
	rc := RotationConfigFromFileOutput(fo)
	if mo != nil && mo.MaxSize > 0 {
		rc.MaxSize = mo.MaxSize
	}
	return rc
}

// openLogWriter returns a writer for path. With rotation enabled lumberjack
// owns the file; otherwise the file is opened in append mode.
func openLogWriter(path string, rc RotationConfig) (io.WriteCloser, error) {
	if err := ensureFileDirectory(path); err != nil {
		return nil, err
	}
	if !rc.IsEnabled() {
		return openAppendFile(path)
	}
	// lumberjack opens the file lazily on first write
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rc.MaxSize,
		MaxAge:     rc.MaxAge,
		MaxBackups: rc.MaxBackups,
		Compress:   rc.Compress,
	}, nil
}
