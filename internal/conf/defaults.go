// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default detection values, tuned for YOLOv8n exported at 640x640 on COCO.
const (
	DefaultInputSize     = 640
	DefaultNumClasses    = 80
	DefaultThreshold     = 0.4
	DefaultIoUThreshold  = 0.45
	DefaultMaxDetections = 20
	DefaultInterval      = 100 * time.Millisecond
)

// DefaultRetryDelays is the enrichment backoff table
var DefaultRetryDelays = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "spotit")

	viper.SetDefault("detection.modelpath", "model/yolov8n_float32.tflite")
	viper.SetDefault("detection.labelpath", "")
	viper.SetDefault("detection.inputsize", DefaultInputSize)
	viper.SetDefault("detection.numclasses", DefaultNumClasses)
	viper.SetDefault("detection.numcandidates", 0)
	viper.SetDefault("detection.threshold", DefaultThreshold)
	viper.SetDefault("detection.iouthreshold", DefaultIoUThreshold)
	viper.SetDefault("detection.maxdetections", DefaultMaxDetections)
	viper.SetDefault("detection.interval", DefaultInterval)
	viper.SetDefault("detection.threads", 0)
	viper.SetDefault("detection.autocapture.enabled", false)
	viper.SetDefault("detection.autocapture.minconfidence", 0.6)

	viper.SetDefault("source.path", "frames/")
	viper.SetDefault("source.fps", 30.0)
	viper.SetDefault("source.loop", true)
	viper.SetDefault("source.buffer", 1)

	viper.SetDefault("enrichment.enabled", true)
	viper.SetDefault("enrichment.concurrency", 3)
	viper.SetDefault("enrichment.maxretries", 3)
	viper.SetDefault("enrichment.retrydelays", DefaultRetryDelays)
	viper.SetDefault("enrichment.offlinerecheck", 5*time.Second)
	viper.SetDefault("enrichment.minwake", 500*time.Millisecond)
	viper.SetDefault("enrichment.dispatchtimeout", 30*time.Second)

	viper.SetDefault("classifier.provider", "gemini")
	viper.SetDefault("classifier.apikey", "")
	viper.SetDefault("classifier.apikeyfile", "")
	viper.SetDefault("classifier.model", "gemini-2.0-flash")
	viper.SetDefault("classifier.baseurl", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("classifier.timeout", 30*time.Second)
	viper.SetDefault("classifier.temperature", 0.1)
	viper.SetDefault("classifier.maxoutputtokens", 512)
	viper.SetDefault("classifier.ratelimit", 1.0)
	viper.SetDefault("classifier.burst", 3)
	viper.SetDefault("classifier.cachettl", 24*time.Hour)

	viper.SetDefault("network.probe", true)
	viper.SetDefault("network.probeurl", "https://generativelanguage.googleapis.com/")
	viper.SetDefault("network.interval", 15*time.Second)
	viper.SetDefault("network.timeout", 5*time.Second)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "spotit")
	viper.SetDefault("mqtt.username", "")
	viper.SetDefault("mqtt.password", "")
	viper.SetDefault("mqtt.passwordfile", "")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "spotit.db")

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "0.0.0.0:8080")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.dsnfile", "")
	viper.SetDefault("sentry.debug", false)

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", false)
	viper.SetDefault("logging.fileoutput.path", "logs/spotit.log")
	viper.SetDefault("logging.fileoutput.level", "info")
}
