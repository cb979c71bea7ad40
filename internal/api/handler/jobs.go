package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/service"
	"github.com/timmy/catalogsync/internal/tracker"
)

// JobHandler triggers pipeline jobs and reports their progress.
type JobHandler struct {
	runner  *service.JobRunner
	tracker *tracker.Tracker
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - runner: single-flight job runner.
//   - tr: tracker used for the status summary.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(runner *service.JobRunner, tr *tracker.Tracker) *JobHandler {
	return &JobHandler{runner: runner, tracker: tr}
}

// JobRequest is the optional body of POST /api/v1/jobs/:job.
type JobRequest struct {
	Limit  int  `json:"limit" binding:"min=0"`
	DryRun bool `json:"dry_run"`
}

// StatusResponse combines catalog counts with the current or last job.
type StatusResponse struct {
	Summary *tracker.Summary   `json:"summary"`
	Job     *service.JobResult `json:"job,omitempty"`
}

// StartJob handles POST /api/v1/jobs/:job.
// The job runs in the background; the response carries its id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) StartJob(c *gin.Context) {
	ctx := c.Request.Context()
	job := c.Param("job")

	var req JobRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.CtxWarn(ctx, "Invalid job request: job=%s, client_ip=%s, error=%v", job, c.ClientIP(), err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := h.runner.Start(ctx, job, service.JobOptions{Limit: req.Limit, DryRun: req.DryRun})
	switch {
	case errors.Is(err, domain.ErrJobRunning):
		logger.CtxWarn(ctx, "Job request rejected: job=%s, error=%v", job, err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "jobs": service.Jobs})
		return
	}

	logger.CtxInfo(ctx, "Job started: job=%s, id=%s, limit=%d, dry_run=%v", job, res.ID, req.Limit, req.DryRun)
	c.JSON(http.StatusAccepted, res)
}

// Status handles GET /api/v1/status.
func (h *JobHandler) Status(c *gin.Context) {
	summary, err := h.tracker.Summary(c.Request.Context(), h.tracker.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Summary: summary, Job: h.runner.Status()})
}
