package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clms-dev/automation-be/internal/automation/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	jobs     []domain.AutomationJob
	findErr  error
	nextRuns map[int64]time.Time
}

func newFakeStore(jobs ...domain.AutomationJob) *fakeStore {
	return &fakeStore{jobs: jobs, nextRuns: make(map[int64]time.Time)}
}

func (s *fakeStore) FindEnabledJobs(ctx context.Context) ([]domain.AutomationJob, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.jobs, nil
}

func (s *fakeStore) UpdateNextRun(ctx context.Context, jobID int64, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRuns[jobID] = next
	return nil
}

func (s *fakeStore) nextRun(jobID int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := s.nextRuns[jobID]
	return next, ok
}

type fakeRunner struct {
	mu    sync.Mutex
	fired []int64
}

func (r *fakeRunner) RunScheduled(ctx context.Context, jobID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, jobID)
}

func testJob(id int64, name, schedule string) *domain.AutomationJob {
	return &domain.AutomationJob{
		ID:        id,
		Name:      name,
		Type:      domain.JobTypeDailyBackup,
		Schedule:  schedule,
		Config:    json.RawMessage(`{}`),
		IsEnabled: true,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(store Store) *Scheduler {
	return New(store, &fakeRunner{}, time.UTC, discardLogger())
}

func TestNextAfter(t *testing.T) {
	loc := time.UTC
	after := time.Date(2026, time.March, 10, 1, 30, 0, 0, loc)

	tests := []struct {
		name     string
		expr     string
		expected time.Time
		wantErr  bool
	}{
		{
			name:     "daily at 2am",
			expr:     "0 2 * * *",
			expected: time.Date(2026, time.March, 10, 2, 0, 0, 0, loc),
		},
		{
			name:     "every 30 minutes",
			expr:     "*/30 * * * *",
			expected: time.Date(2026, time.March, 10, 2, 0, 0, 0, loc),
		},
		{
			name:     "first of month",
			expr:     "0 6 1 * *",
			expected: time.Date(2026, time.April, 1, 6, 0, 0, 0, loc),
		},
		{
			name:    "six fields rejected",
			expr:    "0 0 2 * * *",
			wantErr: true,
		},
		{
			name:    "garbage rejected",
			expr:    "not a cron",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := NextAfter(tt.expr, loc, after)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, next)
		})
	}
}

func TestNextAfter_Timezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 05:30 UTC is 01:30 in New York, so "0 2 * * *" fires the same day
	after := time.Date(2026, time.March, 20, 5, 30, 0, 0, time.UTC)
	next, err := NextAfter("0 2 * * *", loc, after)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, time.March, 20, 2, 0, 0, 0, loc), next)
}

func TestScheduler_Schedule(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(store)
	defer s.Shutdown()

	err := s.Schedule(context.Background(), testJob(1, "daily-backup", "0 2 * * *"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.EntryCount())

	next, ok := store.nextRun(1)
	require.True(t, ok)
	assert.True(t, next.After(time.Now()))
}

func TestScheduler_Schedule_InvalidExpression(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(store)
	defer s.Shutdown()

	err := s.Schedule(context.Background(), testJob(1, "broken", "99 99 * * *"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")

	// Nothing registered, nothing persisted
	assert.Equal(t, 0, s.EntryCount())
	_, ok := store.nextRun(1)
	assert.False(t, ok)
}

func TestScheduler_Schedule_ReplacesExisting(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(store)
	defer s.Shutdown()

	require.NoError(t, s.Schedule(context.Background(), testJob(1, "job", "0 2 * * *")))
	first, _ := s.NextRun(1)

	require.NoError(t, s.Schedule(context.Background(), testJob(1, "job", "0 5 * * *")))
	second, ok := s.NextRun(1)

	assert.Equal(t, 1, s.EntryCount())
	require.True(t, ok)
	assert.NotEqual(t, first, second)
}

func TestScheduler_Unschedule(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(store)
	defer s.Shutdown()

	require.NoError(t, s.Schedule(context.Background(), testJob(1, "job", "0 2 * * *")))
	require.NoError(t, s.Schedule(context.Background(), testJob(2, "other", "0 3 * * *")))

	s.Unschedule(1)

	assert.Equal(t, 1, s.EntryCount())
	_, ok := s.NextRun(1)
	assert.False(t, ok)
	_, ok = s.NextRun(2)
	assert.True(t, ok)

	// Unscheduling an unknown id is a no-op
	s.Unschedule(42)
	assert.Equal(t, 1, s.EntryCount())
}

func TestScheduler_ScheduleAll(t *testing.T) {
	store := newFakeStore(
		*testJob(1, "good-one", "0 2 * * *"),
		*testJob(2, "bad-expression", "nope"),
		*testJob(3, "good-two", "*/15 * * * *"),
	)
	s := newTestScheduler(store)
	defer s.Shutdown()

	scheduled, err := s.ScheduleAll(context.Background())
	require.NoError(t, err)

	// The invalid expression is skipped without affecting the others
	assert.Equal(t, 2, scheduled)
	assert.Equal(t, 2, s.EntryCount())
}

func TestScheduler_ScheduleAll_StoreError(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("connection refused")
	s := newTestScheduler(store)
	defer s.Shutdown()

	_, err := s.ScheduleAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load enabled jobs")
}

func TestScheduler_Shutdown(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(store)

	require.NoError(t, s.Schedule(context.Background(), testJob(1, "job", "0 2 * * *")))
	s.Start()

	s.Shutdown()
	assert.Equal(t, 0, s.EntryCount())
}

func TestScheduler_FiresRunner(t *testing.T) {
	store := newFakeStore()
	runner := &fakeRunner{}
	s := New(store, runner, time.UTC, discardLogger())

	// Every-minute schedule; fire it through the cron entry directly instead
	// of waiting a wall-clock minute.
	require.NoError(t, s.Schedule(context.Background(), testJob(7, "job", "* * * * *")))

	s.mu.Lock()
	entryID := s.entries[7]
	s.mu.Unlock()

	s.cron.Entry(entryID).Job.Run()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.fired, 1)
	assert.Equal(t, int64(7), runner.fired[0])
}
