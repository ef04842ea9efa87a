package executor

import (
	"context"
	"fmt"

	"github.com/clms-dev/automation-be/internal/automation/queue"
)

// BackupRunner snapshots the library database to a destination
type BackupRunner interface {
	RunBackup(ctx context.Context, destination string) (int, error)
}

// SyncTarget pushes a dataset to the external synchronization target
// (a spreadsheet service in production)
type SyncTarget interface {
	PushDataset(ctx context.Context, dataset string) (int, error)
}

// Notifier fans out overdue notices to teachers
type Notifier interface {
	SendOverdueNotices(ctx context.Context, batchSize int) (int, error)
}

// MaintenanceRunner performs the periodic sweep and audit work
type MaintenanceRunner interface {
	Cleanup(ctx context.Context) (int, error)
	Audit(ctx context.Context) (int, error)
}

// Collaborators bundles the narrow interfaces to the external systems the
// handlers and queue processors touch. Everything behind them is out of
// scope for the scheduler itself.
type Collaborators struct {
	Backups     BackupRunner
	Sync        SyncTarget
	Notifier    Notifier
	Maintenance MaintenanceRunner
	Sessions    SessionStore
	Reports     ReportSink
}

// RegisterProcessors binds one processor per (queue, job name) pair. These
// run on queue worker goroutines and may execute concurrently; collaborator
// implementations must tolerate that.
func RegisterProcessors(qm *queue.Manager, collab Collaborators) error {
	type binding struct {
		queue   string
		jobName string
		proc    queue.Processor
	}

	bindings := []binding{
		{QueueBackup, JobNameDailyBackup, func(ctx context.Context, item *queue.Item) (int, error) {
			dest := cfgString(item.Payload, "destination", "primary")
			item.ReportProgress(10)
			n, err := collab.Backups.RunBackup(ctx, dest)
			if err != nil {
				return 0, err
			}
			item.ReportProgress(100)
			return n, nil
		}},
		{QueueSync, JobNameExternalSync, func(ctx context.Context, item *queue.Item) (int, error) {
			dataset := cfgString(item.Payload, "dataset", "library-export")
			return collab.Sync.PushDataset(ctx, dataset)
		}},
		{QueueNotifications, JobNameTeacherNotifications, func(ctx context.Context, item *queue.Item) (int, error) {
			batchSize := cfgInt(item.Payload, "batch_size", 100)
			return collab.Notifier.SendOverdueNotices(ctx, batchSize)
		}},
		{QueueMaintenance, JobNameWeeklyCleanup, func(ctx context.Context, item *queue.Item) (int, error) {
			return collab.Maintenance.Cleanup(ctx)
		}},
		{QueueMaintenance, JobNameIntegrityAudit, func(ctx context.Context, item *queue.Item) (int, error) {
			return collab.Maintenance.Audit(ctx)
		}},
	}

	for _, b := range bindings {
		if err := qm.RegisterProcessor(b.queue, b.jobName, b.proc); err != nil {
			return fmt.Errorf("failed to register processor %s/%s: %w", b.queue, b.jobName, err)
		}
	}
	return nil
}
