package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clms-dev/automation-be/internal/automation/domain"
)

const recentLogLimit = 20

// TriggerJob handles POST /api/v1/automation/jobs/:job_id/trigger
// Runs a job immediately through the same path as a cron firing
func (h *AutomationHandler) TriggerJob(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}

	initiator := c.GetHeader("X-Initiator")
	if initiator == "" {
		initiator = c.ClientIP()
	}

	result, err := h.executor.TriggerJob(c.Request.Context(), jobID, initiator)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
		case errors.Is(err, domain.ErrJobDisabled):
			c.JSON(http.StatusConflict, gin.H{
				"error": "job is disabled",
			})
		case errors.Is(err, domain.ErrJobAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{
				"error": "job is already running",
			})
		default:
			h.logger.Error("Failed to trigger job",
				slog.Int64("job_id", jobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "failed to trigger job",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"data": result,
	})
}

// GetJobStatus handles GET /api/v1/automation/jobs/:job_id
// Returns the job row plus its most recent execution logs
func (h *AutomationHandler) GetJobStatus(c *gin.Context) {
	jobID, ok := h.parseJobID(c)
	if !ok {
		return
	}

	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job",
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get job",
		})
		return
	}

	logs, err := h.store.RecentLogs(c.Request.Context(), jobID, recentLogLimit)
	if err != nil {
		h.logger.Error("Failed to get recent logs",
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get recent logs",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"job":         job,
			"recent_logs": logs,
		},
	})
}

// GetQueueStatus handles GET /api/v1/automation/queues
// Returns waiting/active/completed/failed counters per queue
func (h *AutomationHandler) GetQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": h.queues.Status(),
	})
}

func (h *AutomationHandler) parseJobID(c *gin.Context) (int64, bool) {
	jobID, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be an integer",
		})
		return 0, false
	}
	return jobID, true
}
