// Package cmd assembles the spotit command line.
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/spotit-go/cmd/detect"
	"github.com/tphakala/spotit-go/cmd/enrich"
	"github.com/tphakala/spotit-go/cmd/realtime"
	"github.com/tphakala/spotit-go/cmd/version"
	"github.com/tphakala/spotit-go/internal/buildinfo"
	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
)

const sentryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(info *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}

	rootCmd := &cobra.Command{
		Use:           "spotit",
		Short:         "spotit-go object detection and enrichment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd)

	versionCmd := version.Command(info)
	rootCmd.AddCommand(
		realtime.Command(settings, info),
		detect.Command(settings),
		enrich.Command(settings, info),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(settings, info)
	}
	rootCmd.PersistentPostRun = func(*cobra.Command, []string) {
		errors.FlushSentry(sentryFlushTimeout)
		if err := logger.Global().Close(); err != nil {
			fmt.Println("error closing logger:", err)
		}
	}

	return rootCmd
}

// initialize loads the configuration and sets up logging and error reporting.
// Flags bound to viper keys take precedence over the config file.
func initialize(settings *conf.Settings, info *buildinfo.Context) error {
	loaded, err := conf.Load()
	if err != nil {
		return err
	}
	*settings = *loaded

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("error initializing logging: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(errors.SentryConfig{
			DSN:     settings.Sentry.DSN,
			Release: info.GetVersion(),
			Debug:   settings.Sentry.Debug,
		}); err != nil {
			central.Module("main").Warn("error reporting disabled", logger.Error(err))
		}
	}
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command) {
	flags := rootCmd.PersistentFlags()
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("model", "", "Path to the YOLO .tflite model")
	flags.String("labels", "", "Path to a label file, one class per line")
	flags.Float64P("threshold", "t", 0, "Minimum class score for detections, between 0.0 and 1.0")
	flags.Int("threads", 0, "Interpreter threads, 0 uses all logical cores")

	// unset flags never shadow the config file
	for name, key := range map[string]string{
		"debug":     "debug",
		"model":     "detection.modelpath",
		"labels":    "detection.labelpath",
		"threshold": "detection.threshold",
		"threads":   "detection.threads",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}
