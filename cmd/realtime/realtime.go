package realtime

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/spotit-go/internal/analysis"
	"github.com/tphakala/spotit-go/internal/buildinfo"
	"github.com/tphakala/spotit-go/internal/conf"
)

// Command creates a new command for realtime detection.
func Command(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Detect objects in realtime",
		Long:  "Run the detection pipeline on the frame source, capture and enrich items, and serve the API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := analysis.NewService(settings, analysis.WithBuildInfo(info))
			if err != nil {
				return err
			}
			return s.Run(cmd.Context())
		},
	}

	setupFlags(cmd)
	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("source", "", "Directory of images played as frames")
	flags.Float64("fps", 0, "Frame rate of the source")
	flags.Bool("autocapture", false, "Capture the first detection of each class automatically")
	flags.Bool("probe", false, "Probe connectivity instead of assuming the network is online")
	flags.String("listen", "", "Listen address of the HTTP API")
	flags.Bool("telemetry", false, "Enable Prometheus telemetry endpoint")
	flags.String("telemetry-listen", "", "Listen address of the telemetry endpoint")

	// unset flags never shadow the config file
	for name, key := range map[string]string{
		"source":           "source.path",
		"fps":              "source.fps",
		"autocapture":      "detection.autocapture.enabled",
		"probe":            "network.probe",
		"listen":           "api.listen",
		"telemetry":        "telemetry.enabled",
		"telemetry-listen": "telemetry.listen",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}
