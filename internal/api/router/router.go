package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clms-dev/automation-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "automation-service",
		})
	})

	automationHandler := handler.NewAutomationHandler(deps)

	v1 := r.Group("/api/v1")
	{
		automation := v1.Group("/automation")
		{
			// POST /api/v1/automation/jobs/:job_id/trigger - Run a job now
			automation.POST("/jobs/:job_id/trigger", automationHandler.TriggerJob)

			// GET /api/v1/automation/jobs/:job_id - Job plus recent logs
			automation.GET("/jobs/:job_id", automationHandler.GetJobStatus)

			// GET /api/v1/automation/queues - Per-queue counters
			automation.GET("/queues", automationHandler.GetQueueStatus)
		}
	}

	return r
}
