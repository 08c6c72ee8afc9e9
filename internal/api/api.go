// Package api serves the spotit-go HTTP API.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/spotit-go/internal/datastore"
	"github.com/tphakala/spotit-go/internal/enrichment"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

// Pipeline is the part of the detection pipeline the API controls
type Pipeline interface {
	Latest() *pipeline.Batch
	State() pipeline.State
	Running() bool
	Stats() pipeline.Stats
	LastError() error
	Start()
	Stop()
	Reload(ctx context.Context) error
}

// Queue is the part of the enrichment queue the API exposes
type Queue interface {
	Status() enrichment.Status
	Clear() int
}

// Capturer turns a detection of the latest batch into a stored item
type Capturer interface {
	Capture(ctx context.Context, detectionID string) (*datastore.Item, error)
}

// Network is the connectivity state the API can override
type Network interface {
	Online() bool
	Set(online bool) bool
}

// Controller manages the API routes and handlers
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	Pipeline Pipeline
	Queue    Queue
	Capturer Capturer
	DS       datastore.Interface
	Network  Network

	startTime time.Time
	log       logger.Logger
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithQueue exposes the enrichment queue
func WithQueue(q Queue) Option { return func(c *Controller) { c.Queue = q } }

// WithCapturer enables item capture
func WithCapturer(cp Capturer) Option { return func(c *Controller) { c.Capturer = cp } }

// WithDatastore enables the item routes
func WithDatastore(ds datastore.Interface) Option { return func(c *Controller) { c.DS = ds } }

// WithNetwork enables the network override route
func WithNetwork(n Network) Option { return func(c *Controller) { c.Network = n } }

// NewController registers the /api/v1 routes on e
func NewController(e *echo.Echo, p Pipeline, opts ...Option) *Controller {
	c := &Controller{
		Echo:      e,
		Pipeline:  p,
		startTime: time.Now(),
		log:       GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Group = e.Group("/api/v1")
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.Health)

	c.Group.GET("/detections", c.GetDetections)
	c.Group.GET("/pipeline", c.GetPipeline)
	c.Group.POST("/pipeline/start", c.StartPipeline)
	c.Group.POST("/pipeline/stop", c.StopPipeline)
	c.Group.POST("/pipeline/reload", c.ReloadPipeline)

	c.Group.GET("/enrichment", c.GetEnrichment)
	c.Group.POST("/enrichment/clear", c.ClearEnrichment)

	c.Group.POST("/items/capture", c.CaptureItem)
	c.Group.GET("/items", c.ListItems)
	c.Group.GET("/items/:id", c.GetItem)
	c.Group.GET("/items/:id/image", c.GetItemImage)

	c.Group.GET("/network", c.GetNetwork)
	c.Group.PUT("/network", c.SetNetwork)
}

// Health handles GET /api/v1/health
func (c *Controller) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(c.startTime).Round(time.Second).String(),
	})
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errStr := message
	if err != nil {
		errStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
}

// HandleError logs err and writes it as an ErrorResponse
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Debug("API error", fields...)
	}
	return ctx.JSON(code, resp)
}

// statusFor maps error categories to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("api")
	})
	return serviceLogger
}
