package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clms-dev/automation-be/internal/automation/domain"
	"github.com/clms-dev/automation-be/internal/automation/queue"
	"github.com/clms-dev/automation-be/internal/automation/scheduler"
)

// Store is the slice of the job store the executor needs
type Store interface {
	GetJob(ctx context.Context, jobID int64) (*domain.AutomationJob, error)
	MarkRunning(ctx context.Context, jobID int64, at time.Time) error
	CompleteRun(ctx context.Context, jobID int64, patch domain.RunPatch) error
	CreateLog(ctx context.Context, entry *domain.AutomationLog) error
}

// Queues is the enqueue surface handlers dispatch long-running work through
type Queues interface {
	Enqueue(ctx context.Context, queueName, jobName string, jobID int64, executionID string, payload map[string]any) error
}

// Outcome is what a dispatch handler returns on success. Queued means the
// work was handed to a work queue and its terminal result will arrive later
// through queue events.
type Outcome struct {
	Queued           bool
	RecordsProcessed int
}

// Handler runs one job type. Implementations either do bounded inline work
// or enqueue onto a work queue and return immediately.
type Handler interface {
	Run(ctx context.Context, job *domain.AutomationJob, cfg map[string]any, executionID string) (Outcome, error)
}

// Executor is the orchestration core: it resolves job config, dispatches by
// job type, updates run counters, and writes one execution-log row per
// attempt. Every execution terminates with a counted outcome.
type Executor struct {
	logger *slog.Logger
	store  Store
	loc    *time.Location

	handlerMu sync.RWMutex
	handlers  map[domain.JobType]Handler

	// inflight guards against a cron firing overlapping a still-running
	// execution of the same job. Overlapping firings are skipped, not queued.
	inflightMu sync.Mutex
	inflight   map[int64]struct{}
}

// New creates an executor. The timezone is used to compute next run times.
func New(store Store, loc *time.Location, logger *slog.Logger) *Executor {
	return &Executor{
		logger:   logger,
		store:    store,
		loc:      loc,
		handlers: make(map[domain.JobType]Handler),
		inflight: make(map[int64]struct{}),
	}
}

// RegisterHandler binds a handler to a job type. Each type gets exactly one.
func (e *Executor) RegisterHandler(jobType domain.JobType, h Handler) error {
	e.handlerMu.Lock()
	defer e.handlerMu.Unlock()

	if _, exists := e.handlers[jobType]; exists {
		return fmt.Errorf("handler for job type '%s' already registered", jobType)
	}
	e.handlers[jobType] = h
	return nil
}

// RunScheduled is the cron-firing entry point. All failure paths end here in
// a log line; nothing propagates back into the scheduler.
func (e *Executor) RunScheduled(ctx context.Context, jobID int64) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Error("Scheduled firing could not load job",
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if !job.IsEnabled {
		e.logger.Warn("Skipping scheduled firing of disabled job",
			slog.Int64("job_id", jobID),
			slog.String("job_name", job.Name),
		)
		return
	}

	res, err := e.ExecuteJob(ctx, job)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyRunning) {
			e.logger.Warn("Skipping overlapping firing, previous run still in flight",
				slog.Int64("job_id", jobID),
				slog.String("job_name", job.Name),
			)
			return
		}
		e.logger.Error("Scheduled execution failed",
			slog.Int64("job_id", jobID),
			slog.String("job_name", job.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Info("Scheduled execution finished",
		slog.Int64("job_id", jobID),
		slog.String("job_name", job.Name),
		slog.String("execution_id", res.ExecutionID),
		slog.Bool("success", res.Success),
		slog.Bool("queued", res.Queued),
	)
}

// TriggerJob runs a job on demand. Manual and scheduled executions follow
// the same path and are indistinguishable to the executor.
func (e *Executor) TriggerJob(ctx context.Context, jobID int64, initiator string) (*domain.ExecutionResult, error) {
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !job.IsEnabled {
		return nil, fmt.Errorf("cannot trigger job %s: %w", job.Name, domain.ErrJobDisabled)
	}

	e.logger.Info("Manual trigger",
		slog.Int64("job_id", jobID),
		slog.String("job_name", job.Name),
		slog.String("initiator", initiator),
	)

	return e.ExecuteJob(ctx, job)
}

// ExecuteJob runs one execution attempt through the full state machine:
// RUNNING, dispatch, counter update, log row, next-run recompute, IDLE.
// It returns ErrJobAlreadyRunning when an execution of the same job is in
// flight; every other outcome, including handler failure, is a counted
// result rather than an error.
func (e *Executor) ExecuteJob(ctx context.Context, job *domain.AutomationJob) (*domain.ExecutionResult, error) {
	if !e.begin(job.ID) {
		return nil, fmt.Errorf("job %s: %w", job.Name, domain.ErrJobAlreadyRunning)
	}
	defer e.end(job.ID)

	cfg := domain.NormalizeConfig(job.Config)
	executionID := uuid.NewString()
	startedAt := time.Now()

	// Best-effort: a failed status write must not block the run.
	if err := e.store.MarkRunning(ctx, job.ID, startedAt); err != nil {
		e.logger.Error("Failed to mark job running",
			slog.Int64("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	outcome, runErr := e.dispatch(ctx, job, cfg, executionID)

	completedAt := time.Now()
	durationMs := completedAt.Sub(startedAt).Milliseconds()
	success := runErr == nil
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}

	result := &domain.ExecutionResult{
		ExecutionID:      executionID,
		JobID:            job.ID,
		Success:          success,
		Queued:           outcome.Queued,
		RecordsProcessed: outcome.RecordsProcessed,
		DurationMs:       durationMs,
		ErrorMessage:     errMsg,
		StartedAt:        startedAt,
	}

	e.writeLog(ctx, job.ID, executionID, startedAt, completedAt, durationMs, success, outcome.RecordsProcessed, errMsg)

	patch := domain.RunPatch{
		Success:    success,
		DurationMs: durationMs,
		LastRunAt:  startedAt,
	}
	if next, err := scheduler.NextAfter(job.Schedule, e.loc, completedAt); err == nil {
		patch.NextRunAt = &next
	} else {
		e.logger.Warn("Could not compute next run time",
			slog.Int64("job_id", job.ID),
			slog.String("schedule", job.Schedule),
			slog.String("error", err.Error()),
		)
	}

	if err := e.store.CompleteRun(ctx, job.ID, patch); err != nil {
		e.logger.Error("Failed to update job counters",
			slog.Int64("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return result, nil
}

// dispatch resolves the handler for the job type and runs it, converting a
// panic into a failed outcome so no handler can take down the scheduler.
func (e *Executor) dispatch(ctx context.Context, job *domain.AutomationJob, cfg map[string]any, executionID string) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{}
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	e.handlerMu.RLock()
	h, ok := e.handlers[job.Type]
	e.handlerMu.RUnlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.Type)
	}

	return h.Run(ctx, job, cfg, executionID)
}

func (e *Executor) writeLog(ctx context.Context, jobID int64, executionID string, startedAt, completedAt time.Time, durationMs int64, success bool, records int, errMsg string) {
	status := domain.ExecStatusCompleted
	if !success {
		status = domain.ExecStatusFailed
	}

	entry := &domain.AutomationLog{
		JobID:            jobID,
		ExecutionID:      executionID,
		Status:           status,
		StartedAt:        startedAt,
		CompletedAt:      &completedAt,
		DurationMs:       durationMs,
		Success:          success,
		RecordsProcessed: records,
		ErrorMessage:     errMsg,
	}

	if err := e.store.CreateLog(ctx, entry); err != nil {
		e.logger.Error("Failed to write execution log",
			slog.Int64("job_id", jobID),
			slog.String("execution_id", executionID),
			slog.String("error", err.Error()),
		)
	}
}

// HandleQueueEvent records the asynchronous terminal outcome of queued work
// as a follow-up execution-log row. It never mutates job counters; those
// were settled when the dispatching execution finished.
func (e *Executor) HandleQueueEvent(ev queue.Event) {
	switch ev.Type {
	case queue.EventCompleted, queue.EventFailed:
	case queue.EventStalled:
		e.logger.Warn("Queue item stalled",
			slog.String("queue", ev.Queue),
			slog.String("job_name", ev.JobName),
			slog.String("execution_id", ev.ExecutionID),
		)
		return
	case queue.EventProgress:
		e.logger.Debug("Queue item progress",
			slog.String("queue", ev.Queue),
			slog.String("job_name", ev.JobName),
			slog.String("execution_id", ev.ExecutionID),
			slog.Int("progress", ev.Progress),
		)
		return
	default:
		return
	}

	completedAt := ev.Timestamp
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	startedAt := completedAt.Add(-time.Duration(ev.DurationMs) * time.Millisecond)

	success := ev.Type == queue.EventCompleted
	status := domain.ExecStatusCompleted
	if !success {
		status = domain.ExecStatusFailed
	}

	entry := &domain.AutomationLog{
		JobID: ev.JobID,
		// Suffixed so the row stays linked to the dispatching execution
		// without violating execution-id uniqueness.
		ExecutionID:      ev.ExecutionID + ":async",
		Status:           status,
		StartedAt:        startedAt,
		CompletedAt:      &completedAt,
		DurationMs:       ev.DurationMs,
		Success:          success,
		RecordsProcessed: ev.RecordsProcessed,
		ErrorMessage:     ev.ErrorMessage,
	}

	if err := e.store.CreateLog(context.Background(), entry); err != nil {
		e.logger.Error("Failed to record queue outcome",
			slog.String("queue", ev.Queue),
			slog.String("execution_id", ev.ExecutionID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) begin(jobID int64) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()

	if _, running := e.inflight[jobID]; running {
		return false
	}
	e.inflight[jobID] = struct{}{}
	return true
}

func (e *Executor) end(jobID int64) {
	e.inflightMu.Lock()
	delete(e.inflight, jobID)
	e.inflightMu.Unlock()
}
