package executor

import (
	"context"
	"log/slog"
	"time"
)

// StubCollaborators returns logging stand-ins for every external system.
// They stand where the real backup runner, spreadsheet sync client and
// notification sender plug in; each reports zero records processed.
func StubCollaborators(logger *slog.Logger) Collaborators {
	return Collaborators{
		Backups:     &stubBackupRunner{logger: logger},
		Sync:        &stubSyncTarget{logger: logger},
		Notifier:    &stubNotifier{logger: logger},
		Maintenance: &stubMaintenanceRunner{logger: logger},
		Sessions:    &stubSessionStore{logger: logger},
		Reports:     &stubReportSink{logger: logger},
	}
}

type stubBackupRunner struct {
	logger *slog.Logger
}

func (s *stubBackupRunner) RunBackup(ctx context.Context, destination string) (int, error) {
	s.logger.Info("Stub backup run",
		slog.String("destination", destination),
	)
	return 0, nil
}

type stubSyncTarget struct {
	logger *slog.Logger
}

func (s *stubSyncTarget) PushDataset(ctx context.Context, dataset string) (int, error) {
	s.logger.Info("Stub external sync",
		slog.String("dataset", dataset),
	)
	return 0, nil
}

type stubNotifier struct {
	logger *slog.Logger
}

func (s *stubNotifier) SendOverdueNotices(ctx context.Context, batchSize int) (int, error) {
	s.logger.Info("Stub overdue notifications",
		slog.Int("batch_size", batchSize),
	)
	return 0, nil
}

type stubMaintenanceRunner struct {
	logger *slog.Logger
}

func (s *stubMaintenanceRunner) Cleanup(ctx context.Context) (int, error) {
	s.logger.Info("Stub weekly cleanup")
	return 0, nil
}

func (s *stubMaintenanceRunner) Audit(ctx context.Context) (int, error) {
	s.logger.Info("Stub integrity audit")
	return 0, nil
}

type stubSessionStore struct {
	logger *slog.Logger
}

func (s *stubSessionStore) ExpireSessionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.logger.Info("Stub session expiry",
		slog.Time("cutoff", cutoff),
	)
	return 0, nil
}

type stubReportSink struct {
	logger *slog.Logger
}

func (s *stubReportSink) BuildMonthlyReport(ctx context.Context, year int, month time.Month) (int, error) {
	s.logger.Info("Stub monthly report",
		slog.Int("year", year),
		slog.String("month", month.String()),
	)
	return 0, nil
}
