package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/tracker"
)

// CatalogReader reads processed catalog snapshots.
type CatalogReader interface {
	Latest(ctx context.Context, itemID int64) (*domain.CatalogItem, error)
}

// CatalogHandler serves read-only views of the event log and catalog.
type CatalogHandler struct {
	tracker *tracker.Tracker
	catalog CatalogReader
}

// NewCatalogHandler creates a new catalog handler.
// Parameters:
//   - tr: tracker the views are derived from.
//   - catalog: processed snapshot reader; may be nil.
// Returns:
//   - *CatalogHandler: initialized handler.
func NewCatalogHandler(tr *tracker.Tracker, catalog CatalogReader) *CatalogHandler {
	return &CatalogHandler{tracker: tr, catalog: catalog}
}

// Preview handles GET /api/v1/refresh/preview.
func (h *CatalogHandler) Preview(c *gin.Context) {
	ctx := c.Request.Context()
	report, err := h.tracker.Preview(ctx, h.tracker.Now())
	if err != nil {
		logger.CtxError(ctx, "Refresh preview failed: error=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Preview failed: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// History handles GET /api/v1/items/:id/history.
func (h *CatalogHandler) History(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}

	history, err := h.tracker.History(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if history.FirstSeen.IsZero() && len(history.Fetches) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
		return
	}
	c.JSON(http.StatusOK, history)
}

// Item handles GET /api/v1/items/:id and returns the latest processed snapshot.
func (h *CatalogHandler) Item(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	if h.catalog == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Catalog is not available"})
		return
	}

	item, err := h.catalog.Latest(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not processed"})
		return
	}
	c.JSON(http.StatusOK, item)
}

// Failures handles GET /api/v1/failures.
func (h *CatalogHandler) Failures(c *gin.Context) {
	failed, err := h.tracker.TerminallyFailed(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if failed == nil {
		failed = []tracker.FailedPayload{}
	}
	c.JSON(http.StatusOK, gin.H{
		"items": failed,
		"total": len(failed),
	})
}

func itemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item id"})
		return 0, false
	}
	return id, true
}
