package conf

import (
	"sync"

	"github.com/tphakala/spotit-go/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the conf package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("conf")
	})
	return serviceLogger
}
