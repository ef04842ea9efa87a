package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clms-dev/automation-be/internal/automation/domain"
	"github.com/clms-dev/automation-be/internal/automation/queue"
)

type fakeTrigger struct {
	result    *domain.ExecutionResult
	err       error
	initiator string
}

func (f *fakeTrigger) TriggerJob(ctx context.Context, jobID int64, initiator string) (*domain.ExecutionResult, error) {
	f.initiator = initiator
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeQueueStatus struct {
	status map[string]queue.Status
}

func (f *fakeQueueStatus) Status() map[string]queue.Status {
	return f.status
}

type fakeJobReader struct {
	job    *domain.AutomationJob
	jobErr error
	logs   []domain.AutomationLog
}

func (f *fakeJobReader) GetJob(ctx context.Context, jobID int64) (*domain.AutomationJob, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return f.job, nil
}

func (f *fakeJobReader) RecentLogs(ctx context.Context, jobID int64, limit int) ([]domain.AutomationLog, error) {
	return f.logs, nil
}

func newTestRouter(deps *Dependencies) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := NewAutomationHandler(deps)
	r := gin.New()
	r.POST("/api/v1/automation/jobs/:job_id/trigger", h.TriggerJob)
	r.GET("/api/v1/automation/jobs/:job_id", h.GetJobStatus)
	r.GET("/api/v1/automation/queues", h.GetQueueStatus)
	return r
}

func doRequest(t *testing.T, r *gin.Engine, method, path string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestTriggerJob(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		trigger    *fakeTrigger
		wantStatus int
		wantError  string
	}{
		{
			name: "accepted",
			path: "/api/v1/automation/jobs/1/trigger",
			trigger: &fakeTrigger{result: &domain.ExecutionResult{
				ExecutionID: "exec-1",
				JobID:       1,
				Success:     true,
				Queued:      true,
			}},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "job not found",
			path:       "/api/v1/automation/jobs/99/trigger",
			trigger:    &fakeTrigger{err: domain.ErrJobNotFound},
			wantStatus: http.StatusNotFound,
			wantError:  "job not found",
		},
		{
			name:       "disabled job conflicts",
			path:       "/api/v1/automation/jobs/2/trigger",
			trigger:    &fakeTrigger{err: domain.ErrJobDisabled},
			wantStatus: http.StatusConflict,
			wantError:  "job is disabled",
		},
		{
			name:       "overlapping run conflicts",
			path:       "/api/v1/automation/jobs/3/trigger",
			trigger:    &fakeTrigger{err: domain.ErrJobAlreadyRunning},
			wantStatus: http.StatusConflict,
			wantError:  "job is already running",
		},
		{
			name:       "unexpected error",
			path:       "/api/v1/automation/jobs/4/trigger",
			trigger:    &fakeTrigger{err: errors.New("db down")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "failed to trigger job",
		},
		{
			name:       "non-numeric job id",
			path:       "/api/v1/automation/jobs/abc/trigger",
			trigger:    &fakeTrigger{},
			wantStatus: http.StatusBadRequest,
			wantError:  "job_id must be an integer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&Dependencies{Executor: tt.trigger})

			w, body := doRequest(t, r, http.MethodPost, tt.path, nil)
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}

			data := body["data"].(map[string]any)
			assert.Equal(t, "exec-1", data["execution_id"])
			assert.Equal(t, true, data["queued"])
		})
	}
}

func TestTriggerJob_Initiator(t *testing.T) {
	trigger := &fakeTrigger{result: &domain.ExecutionResult{ExecutionID: "exec-1"}}
	r := newTestRouter(&Dependencies{Executor: trigger})

	_, _ = doRequest(t, r, http.MethodPost, "/api/v1/automation/jobs/1/trigger",
		map[string]string{"X-Initiator": "librarian@school"})
	assert.Equal(t, "librarian@school", trigger.initiator)

	// Without the header the client address is recorded
	_, _ = doRequest(t, r, http.MethodPost, "/api/v1/automation/jobs/1/trigger", nil)
	assert.NotEmpty(t, trigger.initiator)
	assert.NotEqual(t, "librarian@school", trigger.initiator)
}

func TestGetJobStatus(t *testing.T) {
	now := time.Now()
	store := &fakeJobReader{
		job: &domain.AutomationJob{
			ID:        1,
			Name:      "daily-backup",
			Type:      domain.JobTypeDailyBackup,
			IsEnabled: true,
			Status:    domain.JobStatusIdle,
		},
		logs: []domain.AutomationLog{
			{JobID: 1, ExecutionID: "exec-2", Status: domain.ExecStatusCompleted, StartedAt: now},
			{JobID: 1, ExecutionID: "exec-1", Status: domain.ExecStatusFailed, StartedAt: now.Add(-time.Hour)},
		},
	}
	r := newTestRouter(&Dependencies{Store: store})

	w, body := doRequest(t, r, http.MethodGet, "/api/v1/automation/jobs/1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]any)
	job := data["job"].(map[string]any)
	assert.Equal(t, "daily-backup", job["name"])

	logs := data["recent_logs"].([]any)
	require.Len(t, logs, 2)
}

func TestGetJobStatus_NotFound(t *testing.T) {
	r := newTestRouter(&Dependencies{Store: &fakeJobReader{jobErr: domain.ErrJobNotFound}})

	w, body := doRequest(t, r, http.MethodGet, "/api/v1/automation/jobs/99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "job not found", body["error"])
}

func TestGetQueueStatus(t *testing.T) {
	r := newTestRouter(&Dependencies{Queues: &fakeQueueStatus{status: map[string]queue.Status{
		"backup": {Waiting: 1, Active: 0, Completed: 5, Failed: 2},
	}}})

	w, body := doRequest(t, r, http.MethodGet, "/api/v1/automation/queues", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]any)
	backup := data["backup"].(map[string]any)
	assert.Equal(t, float64(1), backup["waiting"])
	assert.Equal(t, float64(5), backup["completed"])
	assert.Equal(t, float64(2), backup["failed"])
}
