// conf/utils.go various util functions for configuration package
package conf

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the directories searched for config.yaml:
// the working directory first, then the per-user config directory.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		GetLogger().Debug("home directory unavailable", logger.Error(err))
		return paths
	}

	if runtime.GOOS == osWindows {
		return append(paths, filepath.Join(homeDir, "AppData", "Roaming", "trackmix"))
	}
	return append(paths, filepath.Join(homeDir, ".config", "trackmix"))
}

// GetFfmpegBinaryName returns the binary name for ffmpeg based on the current OS.
func GetFfmpegBinaryName() string {
	if runtime.GOOS == osWindows {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// ffprobeBinaryName returns the binary name for ffprobe based on the current OS.
func ffprobeBinaryName() string {
	if runtime.GOOS == osWindows {
		return "ffprobe.exe"
	}
	return "ffprobe"
}

// ValidateToolPath checks if a tool is available, either at an explicit path or in the system PATH.
// It returns the validated path to the tool if found, or an empty string and an error otherwise.
func ValidateToolPath(configuredPath, toolName string) (string, error) {
	if configuredPath != "" {
		if info, err := os.Stat(configuredPath); err == nil && !info.IsDir() {
			// execute permission is checked when the tool runs
			return configuredPath, nil
		}
		GetLogger().Warn("configured tool path invalid or not found, checking system PATH",
			logger.String("configured_path", configuredPath),
			logger.String("tool", toolName))
	}

	if found, err := exec.LookPath(toolName); err == nil {
		return found, nil
	}

	if configuredPath != "" {
		return "", errors.Newf("tool '%s' not found at configured path '%s' or in system PATH", toolName, configuredPath).
			Category(errors.CategoryConfiguration).
			Context("tool", toolName).
			Build()
	}
	return "", errors.Newf("tool '%s' not found in system PATH and no path configured", toolName).
		Category(errors.CategoryConfiguration).
		Context("tool", toolName).
		Build()
}

// FfprobePathFor returns the ffprobe binary that sits next to ffmpegPath, or
// the bare ffprobe name when there is none.
func FfprobePathFor(ffmpegPath string) string {
	if ffmpegPath == "" {
		return ffprobeBinaryName()
	}
	candidate := filepath.Join(filepath.Dir(ffmpegPath), ffprobeBinaryName())
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return ffprobeBinaryName()
}

// MoveFile moves a file from src to dst, working across devices
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("error resolving source path: %w", err)
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("error resolving destination path: %w", err)
	}

	srcFile, err := os.Open(srcAbs) //nolint:gosec // G304: srcAbs is filepath.Abs resolved path
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "move-open-source").
			Build()
	}
	defer func() {
		if err := srcFile.Close(); err != nil {
			GetLogger().Warn("failed to close source file", logger.Error(err))
		}
	}()

	dstFile, err := os.Create(dstAbs) //nolint:gosec // G304: dstAbs is filepath.Abs resolved path
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "move-create-destination").
			Build()
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		_ = os.Remove(dstAbs)
		return fmt.Errorf("error copying file contents: %w", err)
	}
	if err := dstFile.Close(); err != nil {
		_ = os.Remove(dstAbs)
		return fmt.Errorf("error closing destination file: %w", err)
	}

	// the copy succeeded, so a failure here leaves both files in place
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("error removing source file after copy: %w", err)
	}

	return nil
}
