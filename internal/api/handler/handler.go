package handler

import (
	"context"
	"log/slog"

	"github.com/clms-dev/automation-be/internal/automation/domain"
	"github.com/clms-dev/automation-be/internal/automation/queue"
)

// Trigger runs a job on demand
type Trigger interface {
	TriggerJob(ctx context.Context, jobID int64, initiator string) (*domain.ExecutionResult, error)
}

// QueueStatus reports per-queue counters
type QueueStatus interface {
	Status() map[string]queue.Status
}

// JobReader is the read-only job store surface the handlers need
type JobReader interface {
	GetJob(ctx context.Context, jobID int64) (*domain.AutomationJob, error)
	RecentLogs(ctx context.Context, jobID int64, limit int) ([]domain.AutomationLog, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Executor Trigger
	Queues   QueueStatus
	Store    JobReader
}

// AutomationHandler handles automation HTTP requests
type AutomationHandler struct {
	logger   *slog.Logger
	executor Trigger
	queues   QueueStatus
	store    JobReader
}

// NewAutomationHandler creates a new AutomationHandler instance
func NewAutomationHandler(deps *Dependencies) *AutomationHandler {
	return &AutomationHandler{
		logger:   deps.Logger,
		executor: deps.Executor,
		queues:   deps.Queues,
		store:    deps.Store,
	}
}
