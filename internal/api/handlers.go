package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/spotit-go/internal/datastore"
	"github.com/tphakala/spotit-go/internal/detection"
	"github.com/tphakala/spotit-go/internal/enrichment"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

const (
	defaultItemLimit = 50
	maxItemLimit     = 500
	reloadTimeout    = 2 * time.Minute
)

// DetectionsResponse is the latest published batch
type DetectionsResponse struct {
	Version     uint64                `json:"version"`
	FrameSeq    uint64                `json:"frame_seq"`
	Source      string                `json:"source"`
	CapturedAt  time.Time             `json:"captured_at"`
	CreatedAt   time.Time             `json:"created_at"`
	InferenceMs int64                 `json:"inference_ms"`
	Detections  []detection.Detection `json:"detections"`
}

// PipelineResponse describes the pipeline state
type PipelineResponse struct {
	State     string         `json:"state"`
	Running   bool           `json:"running"`
	Version   uint64         `json:"version"`
	Stats     pipeline.Stats `json:"stats"`
	LastError string         `json:"last_error,omitempty"`
}

// GetDetections handles GET /api/v1/detections
func (c *Controller) GetDetections(ctx echo.Context) error {
	b := c.Pipeline.Latest()
	if b == nil {
		return ctx.JSON(http.StatusOK, DetectionsResponse{Detections: []detection.Detection{}})
	}
	dets := b.Detections
	if dets == nil {
		dets = []detection.Detection{}
	}
	return ctx.JSON(http.StatusOK, DetectionsResponse{
		Version:     b.Version,
		FrameSeq:    b.Frame.Seq,
		Source:      b.Frame.Source,
		CapturedAt:  b.Frame.CapturedAt,
		CreatedAt:   b.CreatedAt,
		InferenceMs: b.Inference.Milliseconds(),
		Detections:  dets,
	})
}

// GetPipeline handles GET /api/v1/pipeline
func (c *Controller) GetPipeline(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.pipelineResponse())
}

func (c *Controller) pipelineResponse() PipelineResponse {
	resp := PipelineResponse{
		State:   c.Pipeline.State().String(),
		Running: c.Pipeline.Running(),
		Stats:   c.Pipeline.Stats(),
	}
	if b := c.Pipeline.Latest(); b != nil {
		resp.Version = b.Version
	}
	if err := c.Pipeline.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	return resp
}

// StartPipeline handles POST /api/v1/pipeline/start
func (c *Controller) StartPipeline(ctx echo.Context) error {
	c.Pipeline.Start()
	return ctx.JSON(http.StatusOK, c.pipelineResponse())
}

// StopPipeline handles POST /api/v1/pipeline/stop
func (c *Controller) StopPipeline(ctx echo.Context) error {
	c.Pipeline.Stop()
	return ctx.JSON(http.StatusOK, c.pipelineResponse())
}

// ReloadPipeline handles POST /api/v1/pipeline/reload
func (c *Controller) ReloadPipeline(ctx echo.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx.Request().Context(), reloadTimeout)
	defer cancel()
	if err := c.Pipeline.Reload(reqCtx); err != nil {
		return c.HandleError(ctx, err, "Failed to reload model", statusFor(err))
	}
	return ctx.JSON(http.StatusOK, c.pipelineResponse())
}

// GetEnrichment handles GET /api/v1/enrichment
func (c *Controller) GetEnrichment(ctx echo.Context) error {
	if c.Queue == nil {
		return c.HandleError(ctx, nil, "Enrichment is disabled", http.StatusServiceUnavailable)
	}
	status := c.Queue.Status()
	if status.Entries == nil {
		status.Entries = []enrichment.EntryStatus{}
	}
	return ctx.JSON(http.StatusOK, status)
}

// ClearEnrichment handles POST /api/v1/enrichment/clear
func (c *Controller) ClearEnrichment(ctx echo.Context) error {
	if c.Queue == nil {
		return c.HandleError(ctx, nil, "Enrichment is disabled", http.StatusServiceUnavailable)
	}
	return ctx.JSON(http.StatusOK, map[string]int{"cleared": c.Queue.Clear()})
}

// CaptureRequest is the body of POST /api/v1/items/capture
type CaptureRequest struct {
	DetectionID string `json:"detection_id"`
}

// CaptureItem handles POST /api/v1/items/capture
func (c *Controller) CaptureItem(ctx echo.Context) error {
	if c.Capturer == nil {
		return c.HandleError(ctx, nil, "Capture is disabled", http.StatusServiceUnavailable)
	}
	var req CaptureRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.DetectionID == "" {
		return c.HandleError(ctx, nil, "detection_id is required", http.StatusBadRequest)
	}
	item, err := c.Capturer.Capture(ctx.Request().Context(), req.DetectionID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to capture item", statusFor(err))
	}
	return ctx.JSON(http.StatusCreated, item)
}

// ListItems handles GET /api/v1/items?status=&limit=
func (c *Controller) ListItems(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "Storage is disabled", http.StatusServiceUnavailable)
	}
	status := ctx.QueryParam("status")
	switch status {
	case "", datastore.StatusPending, datastore.StatusEnriched, datastore.StatusFailed:
	default:
		return c.HandleError(ctx, nil, "Invalid status filter", http.StatusBadRequest)
	}

	limit := defaultItemLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.HandleError(ctx, err, "Invalid limit", http.StatusBadRequest)
		}
		limit = min(n, maxItemLimit)
	}

	items, err := c.DS.ListItems(status, limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list items", statusFor(err))
	}
	if items == nil {
		items = []datastore.Item{}
	}
	return ctx.JSON(http.StatusOK, items)
}

// GetItem handles GET /api/v1/items/:id
func (c *Controller) GetItem(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "Storage is disabled", http.StatusServiceUnavailable)
	}
	item, err := c.DS.GetItem(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Item not available", statusFor(err))
	}
	return ctx.JSON(http.StatusOK, item)
}

// GetItemImage handles GET /api/v1/items/:id/image
func (c *Controller) GetItemImage(ctx echo.Context) error {
	if c.DS == nil {
		return c.HandleError(ctx, nil, "Storage is disabled", http.StatusServiceUnavailable)
	}
	item, err := c.DS.GetItem(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Item not available", statusFor(err))
	}
	if len(item.Image) == 0 {
		return c.HandleError(ctx, nil, "Item has no image", http.StatusNotFound)
	}
	ctx.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=3600")
	return ctx.Blob(http.StatusOK, "image/jpeg", item.Image)
}

// NetworkRequest is the body of PUT /api/v1/network
type NetworkRequest struct {
	Online *bool `json:"online"`
}

// GetNetwork handles GET /api/v1/network
func (c *Controller) GetNetwork(ctx echo.Context) error {
	if c.Network == nil {
		return c.HandleError(ctx, nil, "Network control is disabled", http.StatusServiceUnavailable)
	}
	return ctx.JSON(http.StatusOK, map[string]bool{"online": c.Network.Online()})
}

// SetNetwork handles PUT /api/v1/network
func (c *Controller) SetNetwork(ctx echo.Context) error {
	if c.Network == nil {
		return c.HandleError(ctx, nil, "Network control is disabled", http.StatusServiceUnavailable)
	}
	var req NetworkRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.Online == nil {
		return c.HandleError(ctx, nil, "online is required", http.StatusBadRequest)
	}
	changed := c.Network.Set(*req.Online)
	return ctx.JSON(http.StatusOK, map[string]bool{"online": *req.Online, "changed": changed})
}
