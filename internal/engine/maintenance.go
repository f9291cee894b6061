package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/ynab-sync/internal/metrics"
	"github.com/roach88/ynab-sync/internal/model"
)

const (
	// DefaultHistoryDays is how long finished runs are kept.
	DefaultHistoryDays = 30

	// DefaultPendingDays is how long finished items are kept.
	DefaultPendingDays = 7

	// AbandonedMessage is recorded on runs and items closed by RecoverStaleRuns.
	AbandonedMessage = "abandoned: run exceeded recovery threshold"
)

// RetryFailedItems returns failed items below the retry limit to pending.
// It does not start a run; the next sync of each item's budget drains them.
func (o *Orchestrator) RetryFailedItems(ctx context.Context) (int64, error) {
	n, err := o.store.RequeueFailed(ctx, o.maxRetries)
	if err != nil {
		return 0, err
	}
	o.metrics.Add(metrics.ItemsRequeued, n)
	o.logger.Info("failed items requeued", "count", n, "max_retries", o.maxRetries)
	return n, nil
}

// CleanupResult reports what a cleanup removed.
type CleanupResult struct {
	RunsDeleted  int64 `json:"runs_deleted"`
	ItemsDeleted int64 `json:"items_deleted"`
}

// Cleanup deletes finished runs older than historyDays and finished items
// older than pendingDays. Nothing belonging to a run in progress is removed.
// Items are purged before runs, so ItemsDeleted does not include items
// removed by cascade with their run.
func (o *Orchestrator) Cleanup(ctx context.Context, historyDays, pendingDays int) (CleanupResult, error) {
	const op = "cleanup"

	if historyDays < 0 || pendingDays < 0 {
		return CleanupResult{}, model.NewValidationError(op,
			fmt.Sprintf("retention days must not be negative (history=%d, pending=%d)", historyDays, pendingDays))
	}

	now := o.now()
	var res CleanupResult
	var err error

	res.ItemsDeleted, err = o.store.PurgePendingOlderThan(ctx, now.AddDate(0, 0, -pendingDays))
	if err != nil {
		return res, err
	}
	res.RunsDeleted, err = o.store.PurgeRunsOlderThan(ctx, now.AddDate(0, 0, -historyDays))
	if err != nil {
		return res, err
	}

	o.metrics.Add(metrics.CleanupItems, res.ItemsDeleted)
	o.metrics.Add(metrics.CleanupRuns, res.RunsDeleted)
	o.logger.Info("cleanup finished",
		"runs_deleted", res.RunsDeleted,
		"items_deleted", res.ItemsDeleted,
		"history_days", historyDays,
		"pending_days", pendingDays,
	)
	return res, nil
}

// RunCleanupLoop calls Cleanup every interval until ctx is done. Failures
// are logged and the loop continues.
func (o *Orchestrator) RunCleanupLoop(ctx context.Context, interval time.Duration, historyDays, pendingDays int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("cleanup loop started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("cleanup loop stopped")
			return
		case <-ticker.C:
			if _, err := o.Cleanup(ctx, historyDays, pendingDays); err != nil {
				o.logger.Error("scheduled cleanup failed", "error", err)
			}
		}
	}
}

// RecoverStaleRuns finalizes runs still in progress that started more than
// olderThan ago, as left behind by a crashed process. Their in-progress
// items are marked failed. Runs whose budget is being synced by this
// process are skipped. Returns the number of runs recovered.
func (o *Orchestrator) RecoverStaleRuns(ctx context.Context, olderThan time.Duration) (int, error) {
	const op = "recover stale runs"

	if olderThan <= 0 {
		return 0, model.NewValidationError(op, "threshold must be positive")
	}

	stale, err := o.store.ListStaleRuns(ctx, o.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, run := range stale {
		ok, err := o.recoverRun(ctx, run)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
		}
	}
	o.logger.Info("stale runs recovered", "count", recovered, "candidates", len(stale))
	return recovered, nil
}

func (o *Orchestrator) recoverRun(ctx context.Context, run model.SyncRun) (bool, error) {
	logger := o.logger.With("run_id", run.ID, "budget_id", run.BudgetID)

	unlock, ok := o.locks.tryLock(run.BudgetID)
	if !ok {
		logger.Info("skipping stale run: budget is syncing")
		return false, nil
	}
	defer unlock()

	if _, err := o.store.FailInProgressItems(ctx, run.ID, AbandonedMessage); err != nil {
		return false, err
	}

	items, err := o.store.ListItems(ctx, run.ID)
	if err != nil {
		return false, err
	}
	outcome := model.RunOutcome{Status: model.StatusFailed, ErrorMessage: AbandonedMessage}
	for _, item := range items {
		switch item.Status {
		case model.StatusCompleted:
			outcome.ItemsProcessed++
		case model.StatusFailed:
			outcome.ItemsFailed++
		}
	}

	changed, err := o.store.FinalizeRun(ctx, run.ID, outcome)
	if err != nil {
		return false, err
	}
	if changed {
		o.metrics.Inc(metrics.SyncFailed)
		logger.Warn("stale run finalized", "started_at", run.StartedAt, "items_failed", outcome.ItemsFailed)
	}
	return changed, nil
}
