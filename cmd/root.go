package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/trackmix/cmd/devices"
	"github.com/tphakala/trackmix/cmd/merge"
	"github.com/tphakala/trackmix/cmd/record"
	"github.com/tphakala/trackmix/internal/buildinfo"
	"github.com/tphakala/trackmix/internal/conf"
	"github.com/tphakala/trackmix/internal/errors"
	"github.com/tphakala/trackmix/internal/logger"
)

// telemetryFlushTimeout bounds how long exit waits for queued error reports
const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(info *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		debug      bool
	)

	// filled in by PersistentPreRunE before any subcommand runs
	settings := &conf.Settings{}

	rootCmd := &cobra.Command{
		Use:          "trackmix",
		Short:        "Multi-source audio capture and segment remixing",
		Version:      info.String(),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default searches ./ and ~/.config/trackmix)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		merge.Command(settings),
		record.Command(settings),
		devices.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings, configFile, debug, info)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		shutdown()
	}

	return rootCmd
}

// initialize loads configuration and sets up logging and telemetry before a
// subcommand runs
func initialize(settings *conf.Settings, configFile string, debug bool, info *buildinfo.Context) error {
	loaded, err := conf.Load(configFile)
	if err != nil {
		return err
	}
	if debug {
		loaded.Debug = true
	}

	logCfg := loaded.Logging
	if loaded.Debug {
		logCfg.DefaultLevel = "debug"
		if logCfg.Console != nil {
			console := *logCfg.Console
			console.Level = "debug"
			logCfg.Console = &console
		}
	}
	central, err := logger.NewCentralLogger(&logCfg)
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "init-logging").
			Build()
	}
	logger.SetGlobal(central)

	log := logger.Global().Module("main")
	if loaded.ConfigFile != "" {
		log.Debug("configuration loaded", logger.String("file", loaded.ConfigFile))
	}

	if loaded.Sentry.Enabled {
		if err := errors.InitSentry(loaded.Sentry.DSN, info.Release()); err != nil {
			log.Warn("error telemetry not enabled", logger.Error(err))
		}
	}

	*settings = *loaded
	return nil
}

func shutdown() {
	errors.FlushTelemetry(telemetryFlushTimeout)
	if err := logger.Global().Flush(); err != nil {
		logger.Global().Module("main").Warn("failed to flush logs", logger.Error(err))
	}
}
