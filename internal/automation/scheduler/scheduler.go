package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clms-dev/automation-be/internal/automation/domain"
)

// specParser accepts the standard 5-field cron syntax
// (minute hour day-of-month month day-of-week).
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextAfter returns the next occurrence of the cron expression after the
// given instant, evaluated in the given timezone.
func NextAfter(expr string, loc *time.Location, after time.Time) (time.Time, error) {
	sched, err := specParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(after.In(loc)), nil
}

// Store is the slice of the job store the scheduler needs
type Store interface {
	FindEnabledJobs(ctx context.Context) ([]domain.AutomationJob, error)
	UpdateNextRun(ctx context.Context, jobID int64, next time.Time) error
}

// Runner executes a job when its timer fires
type Runner interface {
	RunScheduled(ctx context.Context, jobID int64)
}

// Scheduler holds one live cron entry per enabled job. The entry registry is
// owned by the scheduler; there are no process-wide timer globals.
type Scheduler struct {
	logger *slog.Logger
	store  Store
	runner Runner
	loc    *time.Location

	cron *cron.Cron

	mu      sync.Mutex
	entries map[int64]cron.EntryID
}

// New creates a scheduler evaluating cron expressions in the given timezone
func New(store Store, runner Runner, loc *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:  logger,
		store:   store,
		runner:  runner,
		loc:     loc,
		cron:    cron.New(cron.WithLocation(loc), cron.WithParser(specParser)),
		entries: make(map[int64]cron.EntryID),
	}
}

// Start begins firing timers. Safe to call after Schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron scheduler started",
		slog.String("timezone", s.loc.String()),
	)
}

// Schedule validates the job's cron expression and registers a live timer
// for it. An invalid expression registers nothing and leaves the job row
// untouched. An existing timer for the same job id is stopped and replaced.
// The job's true next occurrence is persisted after (re)scheduling.
func (s *Scheduler) Schedule(ctx context.Context, job *domain.AutomationJob) error {
	sched, err := specParser.Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for job %s: %w", job.Schedule, job.Name, err)
	}

	jobID := job.ID
	s.mu.Lock()
	if old, ok := s.entries[jobID]; ok {
		s.cron.Remove(old)
	}
	entryID := s.cron.Schedule(sched, cron.FuncJob(func() {
		s.runner.RunScheduled(context.Background(), jobID)
	}))
	s.entries[jobID] = entryID
	s.mu.Unlock()

	next := sched.Next(time.Now().In(s.loc))
	if err := s.store.UpdateNextRun(ctx, jobID, next); err != nil {
		s.logger.Warn("Failed to persist next run time",
			slog.Int64("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Job scheduled",
		slog.Int64("job_id", jobID),
		slog.String("job_name", job.Name),
		slog.String("schedule", job.Schedule),
		slog.Time("next_run_at", next),
	)
	return nil
}

// Unschedule stops and discards the job's timer, if any
func (s *Scheduler) Unschedule(jobID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
		s.logger.Info("Job unscheduled",
			slog.Int64("job_id", jobID),
		)
	}
}

// ScheduleAll registers timers for every enabled job. A scheduling failure
// on one job is logged and does not affect the others.
func (s *Scheduler) ScheduleAll(ctx context.Context) (int, error) {
	jobs, err := s.store.FindEnabledJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load enabled jobs: %w", err)
	}

	scheduled := 0
	for i := range jobs {
		job := &jobs[i]
		if err := s.Schedule(ctx, job); err != nil {
			s.logger.Error("Failed to schedule job",
				slog.Int64("job_id", job.ID),
				slog.String("job_name", job.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		scheduled++
	}

	s.logger.Info("Enabled jobs scheduled",
		slog.Int("scheduled", scheduled),
		slog.Int("total", len(jobs)),
	)
	return scheduled, nil
}

// EntryCount reports how many live timers the scheduler holds
func (s *Scheduler) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NextRun returns the next fire time of the job's live timer, if one exists
func (s *Scheduler) NextRun(jobID int64) (time.Time, bool) {
	s.mu.Lock()
	entryID, ok := s.entries[jobID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	entry := s.cron.Entry(entryID)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Shutdown stops every live timer and clears the registry. It waits for any
// currently firing timer callbacks to return.
func (s *Scheduler) Shutdown() {
	stopCtx := s.cron.Stop()

	s.mu.Lock()
	for jobID, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, jobID)
	}
	s.mu.Unlock()

	<-stopCtx.Done()
	s.logger.Info("Cron scheduler stopped")
}
