// Package metrics provides Prometheus collectors for each spotit-go component.
package metrics

import "time"

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ShutdownTimeout bounds the graceful shutdown of the metrics server
const ShutdownTimeout = 5 * time.Second

// Namespace prefixes every metric name
const Namespace = "spotit"

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
