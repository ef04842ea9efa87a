package domain

import (
	"encoding/json"
	"time"
)

// JobType selects which dispatch handler runs for an automation job.
// The set is closed; an unrecognized type fails the run, not the scheduler.
type JobType string

const (
	JobTypeDailyBackup          JobType = "DAILY_BACKUP"
	JobTypeTeacherNotifications JobType = "TEACHER_NOTIFICATIONS"
	JobTypeExternalSync         JobType = "EXTERNAL_SYNC"
	JobTypeSessionExpiryCheck   JobType = "SESSION_EXPIRY_CHECK"
	JobTypeWeeklyCleanup        JobType = "WEEKLY_CLEANUP"
	JobTypeMonthlyReport        JobType = "MONTHLY_REPORT"
	JobTypeIntegrityAudit       JobType = "INTEGRITY_AUDIT"
)

// Job status constants
const (
	JobStatusIdle    = "IDLE"
	JobStatusRunning = "RUNNING"
)

// Execution log status constants
const (
	ExecStatusRunning   = "RUNNING"
	ExecStatusCompleted = "COMPLETED"
	ExecStatusFailed    = "FAILED"
)

// AutomationJob is a named, schedulable unit of back-office work.
// Rows live in the automation_jobs table; the scheduler reads and
// updates them but never deletes them (disable via is_enabled instead).
type AutomationJob struct {
	ID                int64           `db:"id" json:"id"`
	Name              string          `db:"name" json:"name"`
	Type              JobType         `db:"job_type" json:"job_type"`
	Schedule          string          `db:"schedule" json:"schedule"`
	Config            json.RawMessage `db:"config" json:"config"`
	IsEnabled         bool            `db:"is_enabled" json:"is_enabled"`
	Status            string          `db:"status" json:"status"`
	TotalRuns         int64           `db:"total_runs" json:"total_runs"`
	SuccessCount      int64           `db:"success_count" json:"success_count"`
	FailureCount      int64           `db:"failure_count" json:"failure_count"`
	AverageDurationMs float64         `db:"average_duration_ms" json:"average_duration_ms"`
	LastRunAt         *time.Time      `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt         *time.Time      `db:"next_run_at" json:"next_run_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// AutomationLog is one row per execution attempt, immutable once terminal.
// Only the retention sweeper deletes them.
type AutomationLog struct {
	ID               int64      `db:"id" json:"id"`
	JobID            int64      `db:"job_id" json:"job_id"`
	ExecutionID      string     `db:"execution_id" json:"execution_id"`
	Status           string     `db:"status" json:"status"`
	StartedAt        time.Time  `db:"started_at" json:"started_at"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	DurationMs       int64      `db:"duration_ms" json:"duration_ms"`
	Success          bool       `db:"success" json:"success"`
	RecordsProcessed int        `db:"records_processed" json:"records_processed"`
	ErrorMessage     string     `db:"error_message" json:"error_message,omitempty"`
}

// ExecutionResult is what a single ExecuteJob call produced. For queued job
// types Success means "the work was dispatched"; the terminal outcome of the
// underlying work arrives later through queue events.
type ExecutionResult struct {
	ExecutionID      string    `json:"execution_id"`
	JobID            int64     `json:"job_id"`
	Success          bool      `json:"success"`
	Queued           bool      `json:"queued"`
	RecordsProcessed int       `json:"records_processed"`
	DurationMs       int64     `json:"duration_ms"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	StartedAt        time.Time `json:"started_at"`
}

// RunPatch carries the counter and timestamp updates applied to a job row
// after an execution attempt finishes.
type RunPatch struct {
	Success    bool
	DurationMs int64
	LastRunAt  time.Time
	NextRunAt  *time.Time
}
