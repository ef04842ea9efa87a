package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/clms-dev/automation-be/internal/automation/domain"
)

// Queue names of the fixed work-queue set
const (
	QueueBackup        = "backup"
	QueueSync          = "sync"
	QueueNotifications = "notifications"
	QueueMaintenance   = "maintenance"
)

// Processor keys within their queues
const (
	JobNameDailyBackup          = "daily-backup"
	JobNameExternalSync         = "external-sync"
	JobNameTeacherNotifications = "teacher-notifications"
	JobNameWeeklyCleanup        = "weekly-cleanup"
	JobNameIntegrityAudit       = "integrity-audit"
)

// SessionStore expires stale self-service sessions
type SessionStore interface {
	ExpireSessionsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ReportSink materializes the monthly activity report
type ReportSink interface {
	BuildMonthlyReport(ctx context.Context, year int, month time.Month) (int, error)
}

// queuedHandler dispatches work onto a named queue and returns a "queued"
// outcome without waiting for the underlying work to finish.
type queuedHandler struct {
	queues  Queues
	queue   string
	jobName string
}

func (h *queuedHandler) Run(ctx context.Context, job *domain.AutomationJob, cfg map[string]any, executionID string) (Outcome, error) {
	if err := h.queues.Enqueue(ctx, h.queue, h.jobName, job.ID, executionID, cfg); err != nil {
		return Outcome{}, fmt.Errorf("failed to dispatch %s onto %s: %w", h.jobName, h.queue, err)
	}
	return Outcome{Queued: true}, nil
}

// sessionExpiryHandler performs bounded inline work: expire sessions older
// than the configured maximum age.
type sessionExpiryHandler struct {
	sessions SessionStore
}

func (h *sessionExpiryHandler) Run(ctx context.Context, _ *domain.AutomationJob, cfg map[string]any, _ string) (Outcome, error) {
	maxAgeHours := cfgInt(cfg, "max_age_hours", 24)
	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)

	expired, err := h.sessions.ExpireSessionsBefore(ctx, cutoff)
	if err != nil {
		return Outcome{}, fmt.Errorf("session expiry failed: %w", err)
	}
	return Outcome{RecordsProcessed: expired}, nil
}

// monthlyReportHandler performs bounded inline work: build the report for
// the current month.
type monthlyReportHandler struct {
	reports ReportSink
}

func (h *monthlyReportHandler) Run(ctx context.Context, _ *domain.AutomationJob, _ map[string]any, _ string) (Outcome, error) {
	now := time.Now()
	rows, err := h.reports.BuildMonthlyReport(ctx, now.Year(), now.Month())
	if err != nil {
		return Outcome{}, fmt.Errorf("monthly report failed: %w", err)
	}
	return Outcome{RecordsProcessed: rows}, nil
}

// RegisterDefaultHandlers binds the full closed dispatch table: one handler
// per enumerated job type.
func RegisterDefaultHandlers(e *Executor, queues Queues, collab Collaborators) error {
	table := map[domain.JobType]Handler{
		domain.JobTypeDailyBackup:          &queuedHandler{queues: queues, queue: QueueBackup, jobName: JobNameDailyBackup},
		domain.JobTypeExternalSync:         &queuedHandler{queues: queues, queue: QueueSync, jobName: JobNameExternalSync},
		domain.JobTypeTeacherNotifications: &queuedHandler{queues: queues, queue: QueueNotifications, jobName: JobNameTeacherNotifications},
		domain.JobTypeWeeklyCleanup:        &queuedHandler{queues: queues, queue: QueueMaintenance, jobName: JobNameWeeklyCleanup},
		domain.JobTypeIntegrityAudit:       &queuedHandler{queues: queues, queue: QueueMaintenance, jobName: JobNameIntegrityAudit},
		domain.JobTypeSessionExpiryCheck:   &sessionExpiryHandler{sessions: collab.Sessions},
		domain.JobTypeMonthlyReport:        &monthlyReportHandler{reports: collab.Reports},
	}

	for jobType, handler := range table {
		if err := e.RegisterHandler(jobType, handler); err != nil {
			return err
		}
	}
	return nil
}

// cfgInt reads an integer option from a normalized config mapping. JSON
// numbers decode as float64.
func cfgInt(cfg map[string]any, key string, def int) int {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return def
	}
}

// cfgString reads a string option from a normalized config mapping
func cfgString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}
