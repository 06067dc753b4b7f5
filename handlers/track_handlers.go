// api/handlers/track_handlers.go
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"luminacorp/api/buffer"
	"luminacorp/api/models"
	"luminacorp/api/store"
)

// CaptureHandlers receives telemetry from the marketing site. Storage
// failures are logged and swallowed; capture must never fail the visitor's
// request.
type CaptureHandlers struct {
	Store  store.Store
	Buffer *buffer.Buffer // nil when batching is disabled
	log    zerolog.Logger
}

func NewCaptureHandlers(st store.Store, buf *buffer.Buffer, log zerolog.Logger) *CaptureHandlers {
	return &CaptureHandlers{Store: st, Buffer: buf, log: log}
}

type trackRequest struct {
	SessionID    string `json:"sessionId"`
	Path         string `json:"path"`
	Referrer     string `json:"referrer"`
	TimeOnPageMs int64  `json:"timeOnPageMs"`
}

// TrackPageView records one page view. Responds 202 whether or not the write
// succeeds; a backend failure is a warning, not the visitor's problem.
func (h *CaptureHandlers) TrackPageView(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.SessionID == "" || req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and path are required"})
		return
	}

	in := models.PageViewInput{
		SessionID:    req.SessionID,
		Path:         req.Path,
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		Referrer:     req.Referrer,
		TimeOnPageMs: req.TimeOnPageMs,
	}
	in.Sanitize()

	if h.Buffer != nil {
		h.Buffer.Push(in)
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()
	if _, err := h.Store.RecordPageView(ctx, in); err != nil {
		h.log.Warn().Err(err).Str("path", in.Path).Msg("failed to record page view")
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

type metricRequest struct {
	Path           string `json:"path"`
	Method         string `json:"method"`
	StatusCode     int    `json:"statusCode"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Error          string `json:"error"`
}

// TrackSystemMetric records one request outcome. Metrics skip the buffer;
// they are low-volume compared to page views.
func (h *CaptureHandlers) TrackSystemMetric(c *gin.Context) {
	var req metricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Path == "" || req.Method == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path and method are required"})
		return
	}

	in := models.SystemMetricInput{
		Path:           req.Path,
		Method:         req.Method,
		StatusCode:     req.StatusCode,
		ResponseTimeMs: req.ResponseTimeMs,
		Error:          req.Error,
	}
	in.Sanitize()

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()
	if _, err := h.Store.RecordSystemMetric(ctx, in); err != nil {
		h.log.Warn().Err(err).Str("path", in.Path).Msg("failed to record system metric")
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}
