package sweeper

import (
	"context"
	"log/slog"
	"time"
)

// LogStore is the slice of the job store the sweeper needs
type LogStore interface {
	DeleteLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deletes execution-log rows older than the retention window on a
// fixed low-frequency interval. A failed sweep is logged and retried on the
// next tick; it never raises to the scheduler.
type Sweeper struct {
	logger   *slog.Logger
	store    LogStore
	window   time.Duration
	interval time.Duration
}

// New creates a retention sweeper
func New(store LogStore, window, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		logger:   logger,
		store:    store,
		window:   window,
		interval: interval,
	}
}

// Run ticks until ctx is canceled
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Retention sweeper started",
		slog.Duration("window", s.window),
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retention sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.window)

	deleted, err := s.store.DeleteLogsOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention sweep failed, will retry next interval",
			slog.Time("cutoff", cutoff),
			slog.String("error", err.Error()),
		)
		return
	}

	if deleted > 0 {
		s.logger.Info("Retention sweep deleted old execution logs",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)
	}
}
