// env.go - Environment variable configuration and validation for spotit-go
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string
	EnvVars   []string // first set variable wins
	Validate  func(string) error
}

// getEnvBindings returns the explicitly bound environment variables
func getEnvBindings() []envBinding {
	return []envBinding{
		{"classifier.apikey", []string{"SPOTIT_CLASSIFIER_APIKEY", "GEMINI_API_KEY"}, nil},
		{"classifier.model", []string{"SPOTIT_CLASSIFIER_MODEL"}, nil},
		{"detection.modelpath", []string{"SPOTIT_DETECTION_MODELPATH"}, validateEnvPath},
		{"detection.threshold", []string{"SPOTIT_DETECTION_THRESHOLD"}, validateEnvUnitInterval},
		{"detection.iouthreshold", []string{"SPOTIT_DETECTION_IOUTHRESHOLD"}, validateEnvUnitInterval},
		{"detection.interval", []string{"SPOTIT_DETECTION_INTERVAL"}, validateEnvDuration},
		{"enrichment.concurrency", []string{"SPOTIT_ENRICHMENT_CONCURRENCY"}, validateEnvPositiveInt},
		{"mqtt.broker", []string{"SPOTIT_MQTT_BROKER"}, nil},
		{"mqtt.password", []string{"SPOTIT_MQTT_PASSWORD"}, nil},
		{"sentry.dsn", []string{"SPOTIT_SENTRY_DSN"}, nil},
		{"debug", []string{"SPOTIT_DEBUG"}, validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		args := append([]string{binding.ConfigKey}, binding.EnvVars...)
		if err := viper.BindEnv(args...); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.ConfigKey, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		for _, name := range binding.EnvVars {
			value := os.Getenv(name)
			if value == "" {
				continue
			}
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value '%s': %v", name, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvUnitInterval(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("must be a duration such as 100ms: %w", err)
	}
	return nil
}

func validateEnvPath(value string) error {
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("path contains a null byte")
	}
	if _, err := os.Stat(value); os.IsNotExist(err) {
		// reported but not fatal, the model may be mounted later
		return fmt.Errorf("warning: file does not exist: %s", value)
	}
	return nil
}

// configureEnvironmentVariables enables SPOTIT_ prefixed overrides for every key
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix("SPOTIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}
