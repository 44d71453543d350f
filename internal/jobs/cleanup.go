package jobs

import (
	"context"
	"log/slog"
	"time"
)

// MarkPruner removes idempotency ledger rows older than a cutoff.
type MarkPruner interface {
	PruneAggregationMarks(ctx context.Context, cutoff time.Time) (int64, error)
}

// LedgerCleanupJob prunes aggregation marks past the retention period. Events
// redelivered after that can be aggregated twice, so retention should exceed
// any client retry horizon.
type LedgerCleanupJob struct {
	pruner        MarkPruner
	logger        *slog.Logger
	retentionDays int
	now           func() time.Time
}

func NewLedgerCleanupJob(pruner MarkPruner, logger *slog.Logger, retentionDays int) *LedgerCleanupJob {
	return &LedgerCleanupJob{
		pruner:        pruner,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

func (j *LedgerCleanupJob) Name() string {
	return "ledger_cleanup"
}

// Run removes ledger rows older than the retention period.
func (j *LedgerCleanupJob) Run(ctx context.Context) error {
	if j.retentionDays <= 0 {
		j.logger.Debug("Ledger retention disabled, skipping cleanup")
		return nil
	}
	cutoff := j.now().UTC().AddDate(0, 0, -j.retentionDays)

	j.logger.Info("Starting cleanup of old aggregation marks",
		slog.Int("retention_days", j.retentionDays),
		slog.Time("cutoff_date", cutoff))

	removed, err := j.pruner.PruneAggregationMarks(ctx, cutoff)
	if err != nil {
		return err
	}

	j.logger.Info("Cleaned up old aggregation marks",
		slog.Int64("deleted_count", removed),
		slog.Int("retention_days", j.retentionDays))
	return nil
}
