package audit

import (
	"context"
	"log/slog"
	"time"
)

// RetentionWorker prunes audit events older than the retention window. One
// sweep runs immediately on start, then daily; a restart after long downtime
// therefore prunes right away instead of waiting out the first tick. Sweeps
// are idempotent, so replicas sharing a database may all run one.
type RetentionWorker struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewRetentionWorker keeps retentionDays days of events. A nil logger falls
// back to slog.Default().
func NewRetentionWorker(store *Store, retentionDays int, logger *slog.Logger) *RetentionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionWorker{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  24 * time.Hour,
		logger:    logger,
	}
}

// Run sweeps until ctx is cancelled. With no store or a non-positive
// retention it logs once and returns.
func (w *RetentionWorker) Run(ctx context.Context) {
	days := int(w.retention.Hours() / 24)
	if w.store == nil || w.retention <= 0 {
		w.logger.Info("audit retention disabled", "retention_days", days)
		return
	}

	w.logger.Info("audit retention started", "retention_days", days)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.sweep()
		select {
		case <-ctx.Done():
			w.logger.Info("audit retention stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *RetentionWorker) sweep() {
	cutoff := time.Now().Add(-w.retention)
	deleted, err := w.store.DeleteOlderThan(cutoff)
	if err != nil {
		w.logger.Error("audit retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		w.logger.Info("audit events pruned",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
}
