// Package middleware provides HTTP middleware components for the spotit-go API.
package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/spotit-go/internal/logger"
)

// RequestObserver receives one call per served request
type RequestObserver interface {
	RecordRequest(method, route string, code int, seconds float64)
}

// NewRequestLogger creates a request logging middleware. observer may be nil.
func NewRequestLogger(log logger.Logger, observer RequestObserver) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, observer, nil)
}

// NewRequestLoggerWithSkipper creates a request logging middleware with a custom skipper.
func NewRequestLoggerWithSkipper(log logger.Logger, observer RequestObserver, skipper echomw.Skipper) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		Skipper:      skipper,
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		LogRoutePath: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			if observer != nil {
				observer.RecordRequest(v.Method, v.RoutePath, v.Status, v.Latency.Seconds())
			}
			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
				log.Warn("request", fields...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	})
}
