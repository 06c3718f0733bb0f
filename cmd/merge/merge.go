// Package merge implements the merge command, which remixes the per-source
// files of a segment directory into one multi-track file.
package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/remix"
	"github.com/tphakala/trackmix/internal/conf"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

// ErrOutputExists is returned when the output file exists and Force is not set
var ErrOutputExists = errors.NewStd("output file already exists")

// Flags are the merge command options
type Flags struct {
	DeleteOriginals bool
	Force           bool
	Output          string // file name inside the directory, extension optional
}

// Command creates the merge command
func Command(settings *conf.Settings) *cobra.Command {
	var flags Flags

	cmd := &cobra.Command{
		Use:   "merge <dir>",
		Short: "Merge the per-source files of a segment directory",
		Long: "Merge system.* and mic-*.* files of a segment directory into one multi-track file. " +
			"Timing is read from manifest.yaml when present; without it every source starts at zero.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := Run(cmd.Context(), settings, args[0], flags)
			out := cmd.OutOrStdout()
			switch {
			case errors.Is(err, ErrOutputExists):
				_, _ = fmt.Fprintf(out, "output exists, use --force to replace it\n")
				return nil
			case errors.Is(err, audiocore.ErrNothingToWrite):
				_, _ = fmt.Fprintf(out, "nothing to merge (%d sources skipped)\n", res.Skipped)
				return nil
			case err != nil:
				return err
			}
			_, _ = fmt.Fprintf(out, "merged %d tracks into %s (%d skipped)\n", res.Written, res.Path, res.Skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.DeleteOriginals, "delete-originals", false, "Delete the per-source files after a successful merge")
	cmd.Flags().BoolVarP(&flags.Force, "force", "f", false, "Replace an existing output file")
	cmd.Flags().StringVarP(&flags.Output, "output", "o", "", "Output file name (default remix.outputname)")

	return cmd
}

// Run merges dir. A missing or invalid directory, or an invalid output
// name, fails with a validation error.
func Run(ctx context.Context, settings *conf.Settings, dir string, flags Flags) (remix.Result, error) {
	log := GetLogger().With(logger.String("dir", dir))

	info, err := os.Stat(dir)
	if err != nil {
		return remix.Result{}, errors.New(err).
			Component("merge").
			Category(errors.CategoryValidation).
			FileContext(dir, 0).
			Build()
	}
	if !info.IsDir() {
		return remix.Result{}, errors.Newf("%s is not a directory", dir).
			Component("merge").
			Category(errors.CategoryValidation).
			FileContext(dir, 0).
			Build()
	}

	dest, err := outputPath(dir, flags.Output, settings)
	if err != nil {
		return remix.Result{}, err
	}
	if _, err := os.Stat(dest); err == nil && !flags.Force {
		log.Info("output exists, skipping merge", logger.String("output", dest))
		return remix.Result{Path: dest}, ErrOutputExists
	}

	manifest, err := loadManifest(dir, log)
	if err != nil {
		return remix.Result{}, err
	}
	manifest.Entries = slices.DeleteFunc(manifest.Entries, func(e audiocore.ManifestEntry) bool {
		return filepath.Clean(e.Path) == filepath.Clean(dest)
	})

	opts := remix.OptionsFromSettings(settings)
	opts.DeleteOriginals = opts.DeleteOriginals || flags.DeleteOriginals

	remixer := remix.New(remix.ConfigFromSettings(settings, nil))
	res, err := remixer.Remix(ctx, manifest, dest, opts)
	if err != nil {
		return res, err
	}

	if opts.DeleteOriginals {
		sidecar := filepath.Join(dir, audiocore.ManifestFileName)
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to delete manifest", logger.Error(err))
		}
	}
	return res, nil
}

// loadManifest reads the sidecar, or infers the sources from file names
// when there is none
func loadManifest(dir string, log logger.Logger) (audiocore.Manifest, error) {
	manifest, err := audiocore.LoadManifest(dir)
	if err == nil {
		return manifest, nil
	}
	if !errors.IsNotFound(err) {
		return audiocore.Manifest{}, err
	}
	log.Debug("no manifest, inferring sources from file names")
	return audiocore.InferManifest(dir)
}

func outputPath(dir, name string, settings *conf.Settings) (string, error) {
	if name == "" {
		name = settings.Remix.OutputName
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", errors.Newf("invalid output name %q", name).
			Component("merge").
			Category(errors.CategoryValidation).
			Build()
	}
	if filepath.Ext(name) == "" {
		name += settings.Encoder().Format.Extension()
	}
	return filepath.Join(dir, name), nil
}

// GetLogger returns the merge command logger
func GetLogger() logger.Logger {
	return logger.Global().Module("merge")
}
