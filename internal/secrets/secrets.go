// Package secrets resolves credentials from files (Docker or Kubernetes
// secrets), environment variable references or literal values. Secret values
// are never logged.
package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
)

const (
	maxSecretFileSize = 64 * 1024

	// group or other permission bits on a secret file trigger a warning
	insecurePermMask = 0o077
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the secrets package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("secrets")
	})
	return serviceLogger
}

// ExpandString expands ${VAR} and ${VAR:-default} references. A referenced
// variable that is unset and has no default is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret from path. Trailing newlines are trimmed; an empty
// secret is an error.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", errors.Newf("secret file path is empty").
			Component("secrets").
			Category(errors.CategoryValidation).
			Build()
	}
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		category := errors.CategoryFileIO
		if os.IsNotExist(err) {
			category = errors.CategoryNotFound
		}
		return "", errors.New(err).
			Component("secrets").
			Category(category).
			Context("path", cleanPath).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", errors.Newf("secret path is not a regular file").
			Component("secrets").
			Category(errors.CategoryValidation).
			Context("path", cleanPath).
			Build()
	}
	if info.Size() > maxSecretFileSize {
		return "", errors.Newf("secret file larger than %d bytes", maxSecretFileSize).
			Component("secrets").
			Category(errors.CategoryValidation).
			Context("path", cleanPath).
			Build()
	}
	if perm := info.Mode().Perm(); perm&insecurePermMask != 0 {
		GetLogger().Warn("secret file is readable by group or others",
			logger.String("path", cleanPath),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", errors.New(err).
			Component("secrets").
			Category(errors.CategoryFileIO).
			Context("path", cleanPath).
			Build()
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", errors.Newf("secret file is empty").
			Component("secrets").
			Category(errors.CategoryValidation).
			Context("path", cleanPath).
			Build()
	}
	return secret, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded. Both empty resolves to "".
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return ExpandString(value)
}

// MustResolve is Resolve for required secrets; an empty result is an error.
func MustResolve(field, filePath, value string) (string, error) {
	secret, err := Resolve(filePath, value)
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", errors.Newf("%s is required but not provided", field).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return secret, nil
}
