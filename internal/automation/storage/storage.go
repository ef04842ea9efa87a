package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/clms-dev/automation-be/internal/automation/domain"
)

// Storage handles all database operations for the automation subsystem.
// The relational store owns the schema; this layer only reads and updates
// the automation_jobs and automation_logs tables.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Storage instance
func New(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `
	id, name, job_type, schedule, config, is_enabled, status,
	total_runs, success_count, failure_count, average_duration_ms,
	last_run_at, next_run_at, created_at, updated_at`

// GetJob retrieves an automation job by id
func (s *Storage) GetJob(ctx context.Context, jobID int64) (*domain.AutomationJob, error) {
	query := `SELECT` + jobColumns + `
		FROM automation_jobs
		WHERE id = $1`

	var job domain.AutomationJob
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// FindEnabledJobs returns every job the scheduler should hold a timer for
func (s *Storage) FindEnabledJobs(ctx context.Context) ([]domain.AutomationJob, error) {
	query := `SELECT` + jobColumns + `
		FROM automation_jobs
		WHERE is_enabled = TRUE
		ORDER BY id`

	var jobs []domain.AutomationJob
	if err := s.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("failed to fetch enabled jobs: %w", err)
	}

	return jobs, nil
}

// MarkRunning transitions a job row to RUNNING and stamps last_run_at
func (s *Storage) MarkRunning(ctx context.Context, jobID int64, at time.Time) error {
	query := `
		UPDATE automation_jobs
		SET status = $1,
		    last_run_at = $2,
		    updated_at = NOW()
		WHERE id = $3`

	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusRunning, at, jobID); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

// CompleteRun settles an execution attempt: counters bump, the duration
// folds into a running mean, the row returns to IDLE whatever the outcome.
func (s *Storage) CompleteRun(ctx context.Context, jobID int64, patch domain.RunPatch) error {
	successInc := 0
	if patch.Success {
		successInc = 1
	}

	query := `
		UPDATE automation_jobs
		SET status = $1,
		    total_runs = total_runs + 1,
		    success_count = success_count + $2,
		    failure_count = failure_count + $3,
		    average_duration_ms = average_duration_ms + ($4 - average_duration_ms) / (total_runs + 1),
		    last_run_at = $5,
		    next_run_at = COALESCE($6, next_run_at),
		    updated_at = NOW()
		WHERE id = $7`

	_, err := s.db.ExecContext(ctx, query,
		domain.JobStatusIdle,
		successInc,
		1-successInc,
		patch.DurationMs,
		patch.LastRunAt,
		patch.NextRunAt,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	s.logger.Debug("Job run settled",
		slog.Int64("job_id", jobID),
		slog.Bool("success", patch.Success),
		slog.Int64("duration_ms", patch.DurationMs),
	)
	return nil
}

// UpdateNextRun persists a recomputed next scheduled time
func (s *Storage) UpdateNextRun(ctx context.Context, jobID int64, next time.Time) error {
	query := `
		UPDATE automation_jobs
		SET next_run_at = $1,
		    updated_at = NOW()
		WHERE id = $2`

	if _, err := s.db.ExecContext(ctx, query, next, jobID); err != nil {
		return fmt.Errorf("failed to update next run: %w", err)
	}
	return nil
}

// ResetRunningJobs returns jobs stuck in RUNNING to IDLE. Called once at
// startup: a crash mid-execution leaves rows RUNNING with no live execution
// behind them.
func (s *Storage) ResetRunningJobs(ctx context.Context) (int64, error) {
	query := `
		UPDATE automation_jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE status = $2`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusIdle, domain.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to reset running jobs: %w", err)
	}

	reset, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if reset > 0 {
		s.logger.Warn("Reset jobs stuck in RUNNING from a previous process",
			slog.Int64("count", reset),
		)
	}
	return reset, nil
}

// CreateLog inserts one execution-log row
func (s *Storage) CreateLog(ctx context.Context, entry *domain.AutomationLog) error {
	query := `
		INSERT INTO automation_logs (
			job_id, execution_id, status, started_at, completed_at,
			duration_ms, success, records_processed, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		entry.JobID,
		entry.ExecutionID,
		entry.Status,
		entry.StartedAt,
		entry.CompletedAt,
		entry.DurationMs,
		entry.Success,
		entry.RecordsProcessed,
		entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create log: %w", err)
	}
	return nil
}

// RecentLogs returns the newest execution-log rows for a job
func (s *Storage) RecentLogs(ctx context.Context, jobID int64, limit int) ([]domain.AutomationLog, error) {
	query := `
		SELECT id, job_id, execution_id, status, started_at, completed_at,
		       duration_ms, success, records_processed, error_message
		FROM automation_logs
		WHERE job_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2`

	var logs []domain.AutomationLog
	if err := s.db.SelectContext(ctx, &logs, query, jobID, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch recent logs: %w", err)
	}

	return logs, nil
}

// DeleteLogsOlderThan removes execution-log rows whose started_at predates
// the cutoff and reports how many were deleted
func (s *Storage) DeleteLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM automation_logs WHERE started_at < $1`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old logs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// JobSeed declares a job row to ensure exists
type JobSeed struct {
	Name     string
	Type     domain.JobType
	Schedule string
	Enabled  bool
	Config   map[string]any
}

// SeedJobs inserts missing job rows by name. Existing rows are never
// overwritten; operators own them once created.
func (s *Storage) SeedJobs(ctx context.Context, seeds []JobSeed) error {
	query := `
		INSERT INTO automation_jobs (
			name, job_type, schedule, config, is_enabled, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (name) DO NOTHING`

	for _, seed := range seeds {
		cfg, err := json.Marshal(seed.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal seed config for %s: %w", seed.Name, err)
		}

		_, err = s.db.ExecContext(ctx, query,
			seed.Name,
			seed.Type,
			seed.Schedule,
			cfg,
			seed.Enabled,
			domain.JobStatusIdle,
		)
		if err != nil {
			return fmt.Errorf("failed to seed job %s: %w", seed.Name, err)
		}
	}

	s.logger.Info("Job seeds ensured",
		slog.Int("count", len(seeds)),
	)
	return nil
}
