package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/tracker"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	tracker *tracker.Tracker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(tr *tracker.Tracker) *HealthHandler {
	return &HealthHandler{tracker: tr}
}

// Health reports the worker identity and the event log visibility lag.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"worker":         h.tracker.Worker(),
		"visibility_lag": h.tracker.VisibilityLag().String(),
	})
}
