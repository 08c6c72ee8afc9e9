// Package conf loads and validates spotit-go settings with viper.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// Version is set at build time with -ldflags
var Version = "dev"

// MainSettings contains general application settings
type MainSettings struct {
	Name string `yaml:"name"` // instance name, used in MQTT client ids and metrics
}

// DetectionSettings contains the object detection model and pipeline settings
type DetectionSettings struct {
	ModelPath     string              `yaml:"modelpath"`     // path to the YOLO .tflite model
	LabelPath     string              `yaml:"labelpath"`     // optional label file, one class per line; COCO when empty
	InputSize     int                 `yaml:"inputsize"`     // square model input size in pixels
	NumClasses    int                 `yaml:"numclasses"`    // number of classes in the output tensor
	NumCandidates int                 `yaml:"numcandidates"` // candidates per output tensor, 0 infers from length
	Threshold     float64             `yaml:"threshold"`     // minimum class score to keep a candidate
	IoUThreshold  float64             `yaml:"iouthreshold"`  // overlap above which lower-confidence boxes are suppressed
	MaxDetections int                 `yaml:"maxdetections"` // maximum detections per published batch
	Interval      time.Duration       `yaml:"interval"`      // minimum time between processed frames
	Threads       int                 `yaml:"threads"`       // interpreter threads, 0 uses all logical cores
	AutoCapture   AutoCaptureSettings `yaml:"autocapture"`
}

// AutoCaptureSettings controls automatic item capture of new detections
type AutoCaptureSettings struct {
	Enabled       bool    `yaml:"enabled"`
	MinConfidence float64 `yaml:"minconfidence"` // detections below this are never auto captured
}

// SourceSettings contains the frame source settings
type SourceSettings struct {
	Path   string  `yaml:"path"`   // directory of images played as frames
	FPS    float64 `yaml:"fps"`    // native frame rate of the source
	Loop   bool    `yaml:"loop"`   // restart from the first image after the last one
	Buffer int     `yaml:"buffer"` // frame channel capacity, frames are dropped when full
}

// EnrichmentSettings contains the enrichment queue settings
type EnrichmentSettings struct {
	Enabled         bool            `yaml:"enabled"`
	Concurrency     int             `yaml:"concurrency"`     // maximum dispatches in flight
	MaxRetries      int             `yaml:"maxretries"`      // failures after which an item is dropped
	RetryDelays     []time.Duration `yaml:"retrydelays"`     // backoff table, last value repeats
	OfflineRecheck  time.Duration   `yaml:"offlinerecheck"`  // recheck interval while offline
	MinWake         time.Duration   `yaml:"minwake"`         // shortest backoff wake-up
	DispatchTimeout time.Duration   `yaml:"dispatchtimeout"` // upper bound for a single classifier call
}

// ClassifierSettings contains the remote classifier settings
type ClassifierSettings struct {
	Provider        string        `yaml:"provider"` // gemini
	APIKey          string        `yaml:"apikey"`     // literal or ${ENV} reference
	APIKeyFile      string        `yaml:"apikeyfile"` // file holding the key, wins over apikey
	Model           string        `yaml:"model"`
	BaseURL         string        `yaml:"baseurl"`
	Timeout         time.Duration `yaml:"timeout"`
	Temperature     float64       `yaml:"temperature"`
	MaxOutputTokens int           `yaml:"maxoutputtokens"`
	RateLimit       float64       `yaml:"ratelimit"` // requests per second, 0 disables limiting
	Burst           int           `yaml:"burst"`
	CacheTTL        time.Duration `yaml:"cachettl"` // 0 disables the response cache
}

// NetworkSettings contains connectivity probing settings
type NetworkSettings struct {
	Probe    bool          `yaml:"probe"`    // probe connectivity instead of assuming online
	ProbeURL string        `yaml:"probeurl"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MQTTSettings contains MQTT publishing settings
type MQTTSettings struct {
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	Topic        string `yaml:"topic"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"passwordfile"`
	QoS          byte   `yaml:"qos"`
	Retain       bool   `yaml:"retain"`
}

// SQLiteSettings contains SQLite output settings
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// OutputSettings contains output targets
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite"`
}

// APISettings contains the HTTP API settings
type APISettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// TelemetrySettings contains the Prometheus endpoint settings
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// SentrySettings contains error reporting settings
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	DSNFile string `yaml:"dsnfile"`
	Debug   bool   `yaml:"debug"`
}

// Settings contains all configuration options for spotit-go
type Settings struct {
	Debug      bool                 `yaml:"debug"`
	Main       MainSettings         `yaml:"main"`
	Detection  DetectionSettings    `yaml:"detection"`
	Source     SourceSettings       `yaml:"source"`
	Enrichment EnrichmentSettings   `yaml:"enrichment"`
	Classifier ClassifierSettings   `yaml:"classifier"`
	Network    NetworkSettings      `yaml:"network"`
	MQTT       MQTTSettings         `yaml:"mqtt"`
	Output     OutputSettings       `yaml:"output"`
	API        APISettings          `yaml:"api"`
	Telemetry  TelemetrySettings    `yaml:"telemetry"`
	Sentry     SentrySettings       `yaml:"sentry"`
	Logging    logger.LoggingConfig `yaml:"logging"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// resolveSecrets replaces credential settings with the content of their secret
// file, or expands ${VAR} references in the configured value.
func resolveSecrets(settings *Settings) error {
	targets := []struct {
		key   string
		file  string
		value *string
	}{
		{"classifier.apikey", settings.Classifier.APIKeyFile, &settings.Classifier.APIKey},
		{"mqtt.password", settings.MQTT.PasswordFile, &settings.MQTT.Password},
		{"sentry.dsn", settings.Sentry.DSNFile, &settings.Sentry.DSN},
	}

	for _, t := range targets {
		// literal values may legitimately contain '$'
		if t.file == "" && !strings.Contains(*t.value, "${") {
			continue
		}
		resolved, err := secrets.Resolve(t.file, *t.value)
		if err != nil {
			return fmt.Errorf("%s: %w", t.key, err)
		}
		*t.value = resolved
	}
	return nil
}

// initViper sets defaults, binds the environment and reads the config file,
// writing the embedded default file when none exists.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config.yaml to dir and reads it back
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error getting home directory: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		return []string{
			".",
			filepath.Join(homeDir, "AppData", "Roaming", "spotit-go"),
		}, nil
	default:
		return []string{
			".",
			filepath.Join(homeDir, ".config", "spotit-go"),
			"/etc/spotit-go",
		}, nil
	}
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAML writes settings to path atomically through a temp file
func SaveYAML(path string, settings *Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("error writing settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("error replacing settings file: %w", err)
	}
	return nil
}
