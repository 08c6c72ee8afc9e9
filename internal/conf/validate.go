// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateDetectionSettings(&s.Detection) },
		func(s *Settings) error { return validateSourceSettings(&s.Source) },
		func(s *Settings) error { return validateEnrichmentSettings(&s.Enrichment) },
		func(s *Settings) error { return validateClassifierSettings(&s.Classifier) },
		func(s *Settings) error { return validateNetworkSettings(&s.Network) },
		func(s *Settings) error { return validateMQTTSettings(&s.MQTT) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
	}

	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDetectionSettings(settings *DetectionSettings) error {
	var errs []string

	if settings.InputSize <= 0 {
		errs = append(errs, "detection inputsize must be positive")
	}
	if settings.NumClasses <= 0 {
		errs = append(errs, "detection numclasses must be positive")
	}
	if settings.NumCandidates < 0 {
		errs = append(errs, "detection numcandidates must not be negative")
	}
	if settings.Threshold < 0 || settings.Threshold > 1 {
		errs = append(errs, "detection threshold must be between 0 and 1")
	}
	if settings.IoUThreshold < 0 || settings.IoUThreshold > 1 {
		errs = append(errs, "detection iouthreshold must be between 0 and 1")
	}
	if settings.MaxDetections <= 0 {
		errs = append(errs, "detection maxdetections must be positive")
	}
	if settings.Interval < 0 {
		errs = append(errs, "detection interval must not be negative")
	}
	if settings.AutoCapture.MinConfidence < 0 || settings.AutoCapture.MinConfidence > 1 {
		errs = append(errs, "detection autocapture minconfidence must be between 0 and 1")
	}

	return joinErrors(errs)
}

func validateSourceSettings(settings *SourceSettings) error {
	var errs []string
	if settings.FPS <= 0 {
		errs = append(errs, "source fps must be positive")
	}
	if settings.Buffer < 1 {
		errs = append(errs, "source buffer must be at least 1")
	}
	return joinErrors(errs)
}

func validateEnrichmentSettings(settings *EnrichmentSettings) error {
	if !settings.Enabled {
		return nil
	}

	var errs []string
	if settings.Concurrency < 1 {
		errs = append(errs, "enrichment concurrency must be at least 1")
	}
	if settings.MaxRetries < 1 {
		errs = append(errs, "enrichment maxretries must be at least 1")
	}
	if len(settings.RetryDelays) == 0 {
		errs = append(errs, "enrichment retrydelays must not be empty")
	}
	for i, d := range settings.RetryDelays {
		if d < 0 {
			errs = append(errs, fmt.Sprintf("enrichment retrydelays[%d] must not be negative", i))
		}
		if i > 0 && d < settings.RetryDelays[i-1] {
			errs = append(errs, "enrichment retrydelays must be non-decreasing")
			break
		}
	}
	if settings.OfflineRecheck <= 0 {
		errs = append(errs, "enrichment offlinerecheck must be positive")
	}
	if settings.MinWake < 0 {
		errs = append(errs, "enrichment minwake must not be negative")
	}
	return joinErrors(errs)
}

func validateClassifierSettings(settings *ClassifierSettings) error {
	var errs []string

	switch settings.Provider {
	case "gemini":
	default:
		errs = append(errs, fmt.Sprintf("unsupported classifier provider %q", settings.Provider))
	}
	if _, err := url.ParseRequestURI(settings.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("invalid classifier baseurl: %v", err))
	}
	if settings.Temperature < 0 || settings.Temperature > 2 {
		errs = append(errs, "classifier temperature must be between 0 and 2")
	}
	if settings.MaxOutputTokens <= 0 {
		errs = append(errs, "classifier maxoutputtokens must be positive")
	}
	if settings.RateLimit < 0 {
		errs = append(errs, "classifier ratelimit must not be negative")
	}
	return joinErrors(errs)
}

func validateNetworkSettings(settings *NetworkSettings) error {
	if !settings.Probe {
		return nil
	}
	var errs []string
	if _, err := url.ParseRequestURI(settings.ProbeURL); err != nil {
		errs = append(errs, fmt.Sprintf("invalid network probeurl: %v", err))
	}
	if settings.Interval <= 0 {
		errs = append(errs, "network interval must be positive")
	}
	return joinErrors(errs)
}

func validateMQTTSettings(settings *MQTTSettings) error {
	if !settings.Enabled {
		return nil
	}
	var errs []string
	if settings.Broker == "" {
		errs = append(errs, "mqtt broker is required when mqtt is enabled")
	}
	if settings.Topic == "" {
		errs = append(errs, "mqtt topic is required when mqtt is enabled")
	}
	if settings.QoS > 2 {
		errs = append(errs, "mqtt qos must be 0, 1 or 2")
	}
	return joinErrors(errs)
}

func validateSentrySettings(settings *SentrySettings) error {
	if settings.Enabled && settings.DSN == "" {
		return fmt.Errorf("sentry dsn is required when sentry is enabled")
	}
	return nil
}

func joinErrors(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, ", "))
}
