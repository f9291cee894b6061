package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/ynab-sync/internal/gateway"
	"github.com/roach88/ynab-sync/internal/metrics"
	"github.com/roach88/ynab-sync/internal/model"
)

// SyncOptions tune a single run.
type SyncOptions struct {
	// Full ignores stored cursors and refetches everything.
	Full bool

	// Categories also fetches category changes.
	Categories bool
}

// StartSync runs one sync for budgetID and returns the finalized run.
//
// Fetch and storage failures finalize the run as failed and are returned
// together with it. Item failures are not errors: the returned run has
// status failed and a summary message. A caller whose context is cancelled
// while waiting for the budget lock gets no run at all.
func (o *Orchestrator) StartSync(ctx context.Context, budgetID string, opts SyncOptions) (model.SyncRun, error) {
	if budgetID == "" {
		return model.SyncRun{}, model.NewValidationError("start sync", "budget id is required")
	}

	unlock, err := o.locks.lock(ctx, budgetID)
	if err != nil {
		return model.SyncRun{}, fmt.Errorf("wait for budget %s: %w", budgetID, err)
	}
	defer unlock()

	started := o.now()
	runID, err := o.store.CreateRun(ctx, budgetID)
	if err != nil {
		return model.SyncRun{}, err
	}
	o.metrics.Inc(metrics.SyncStarted)

	logger := o.logger.With("run_id", runID, "budget_id", budgetID)
	logger.Info("sync started", "full", opts.Full, "categories", o.wantCategories(opts))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("sync panicked", "panic", r)
			_, _ = o.finalize(ctx, logger, runID, model.RunOutcome{
				Status:       model.StatusFailed,
				ErrorMessage: fmt.Sprintf("panic: %v", r),
			}, started)
			panic(r)
		}
	}()

	outcome, runErr := o.run(ctx, logger, runID, budgetID, opts)
	run, err := o.finalize(ctx, logger, runID, outcome, started)
	if runErr != nil {
		return run, runErr
	}
	return run, err
}

func (o *Orchestrator) wantCategories(opts SyncOptions) bool {
	return opts.Categories || o.syncCategories
}

// run performs steps 3 through 7 and reports how the run should be
// finalized. The returned outcome is always terminal.
func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, runID, budgetID string, opts SyncOptions) (model.RunOutcome, error) {
	cursors, err := o.cursors(ctx, budgetID)
	if err != nil {
		return failedOutcome(tally{}, err), err
	}
	if opts.Full {
		cursors = gateway.Cursors{}
	}

	set, err := o.gateway.FetchChanges(ctx, budgetID, cursors, gateway.FetchOptions{Categories: o.wantCategories(opts)})
	if err != nil {
		logger.Error("fetch changes failed", "error", err)
		return failedOutcome(tally{}, err), err
	}

	if _, err := o.store.StageChanges(ctx, runID, set.Changes); err != nil {
		logger.Error("stage changes failed", "error", err)
		return failedOutcome(tally{}, err), err
	}
	o.metrics.Add(metrics.ItemsStaged, int64(len(set.Changes)))
	logger.Debug("changes staged",
		"count", len(set.Changes),
		"transaction_cursor", set.Cursors.Transactions,
		"category_cursor", set.Cursors.Categories,
	)

	t, drainErr := o.drain(ctx, logger, runID, budgetID)

	// The changes are durably staged, so the cursors advance even when the
	// drain stopped early. Leftover items are drained by the next run.
	if err := o.saveCursors(context.WithoutCancel(ctx), budgetID, set); err != nil {
		logger.Error("persist knowledge failed", "error", err)
		if drainErr == nil {
			drainErr = err
		}
	}
	if drainErr != nil {
		return failedOutcome(t, drainErr), drainErr
	}
	return t.outcome(), nil
}

// tally counts per-item results of a drain.
type tally struct {
	processed int
	failed    int
	lastErr   string
}

func (t tally) outcome() model.RunOutcome {
	out := model.RunOutcome{
		Status:         model.StatusCompleted,
		ItemsProcessed: t.processed,
		ItemsFailed:    t.failed,
	}
	if t.failed > 0 {
		out.Status = model.StatusFailed
		out.ErrorMessage = fmt.Sprintf("%d of %d items failed; last error: %s",
			t.failed, t.processed+t.failed, t.lastErr)
	}
	return out
}

func failedOutcome(t tally, err error) model.RunOutcome {
	out := t.outcome()
	out.Status = model.StatusFailed
	out.ErrorMessage = err.Error()
	return out
}

// drain applies the budget's pending items in FIFO order. It stops only on
// storage failure or cancellation; item failures are counted and skipped.
func (o *Orchestrator) drain(ctx context.Context, logger *slog.Logger, runID, budgetID string) (tally, error) {
	var t tally

	items, err := o.store.ListDrainable(ctx, runID)
	if err != nil {
		return t, err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return t, err
		}

		itemErr, err := o.applyItem(ctx, budgetID, item)
		if err != nil {
			return t, err
		}
		if itemErr != nil {
			t.failed++
			t.lastErr = itemErr.Error()
			o.metrics.Inc(metrics.ItemsFailed)
			logger.Warn("item failed", "item", item.String(), "retry_count", item.RetryCount, "error", itemErr)
			continue
		}
		t.processed++
		o.metrics.Inc(metrics.ItemsProcessed)
		logger.Debug("item applied", "item", item.String())
	}
	return t, nil
}

// applyItem validates and applies one item and records its outcome.
// itemErr is the item's own failure; err is a storage failure that should
// abort the drain.
func (o *Orchestrator) applyItem(ctx context.Context, budgetID string, item model.PendingItem) (itemErr, err error) {
	// Outcomes are recorded even if ctx is cancelled mid-call.
	record := context.WithoutCancel(ctx)

	if verr := o.validator.Validate(item.ItemType, item.Action, item.Payload); verr != nil {
		return verr, o.store.MarkOutcome(record, item.ID, model.StatusFailed, verr.Error())
	}

	if err := o.store.MarkOutcome(ctx, item.ID, model.StatusInProgress, ""); err != nil {
		return nil, err
	}

	if applyErr := o.gateway.Apply(ctx, budgetID, item); applyErr != nil {
		return applyErr, o.store.MarkOutcome(record, item.ID, model.StatusFailed, applyErr.Error())
	}
	return nil, o.store.MarkOutcome(record, item.ID, model.StatusCompleted, "")
}

// finalize writes the run's terminal state and returns the stored run.
// It runs on a context detached from cancellation so that a cancelled
// caller still leaves no run in progress.
func (o *Orchestrator) finalize(ctx context.Context, logger *slog.Logger, runID string, outcome model.RunOutcome, started time.Time) (model.SyncRun, error) {
	ctx = context.WithoutCancel(ctx)

	changed, err := o.store.FinalizeRun(ctx, runID, outcome)
	if err != nil {
		logger.Error("finalize run failed", "error", err)
		return model.SyncRun{ID: runID, Status: model.StatusInProgress}, err
	}
	if !changed {
		logger.Warn("run was already finalized")
	}

	o.metrics.Observe(metrics.SyncDuration, o.now().Sub(started))
	if outcome.Status == model.StatusCompleted {
		o.metrics.Inc(metrics.SyncCompleted)
		logger.Info("sync completed", "items_processed", outcome.ItemsProcessed)
	} else {
		o.metrics.Inc(metrics.SyncFailed)
		logger.Warn("sync failed",
			"items_processed", outcome.ItemsProcessed,
			"items_failed", outcome.ItemsFailed,
			"error", outcome.ErrorMessage,
		)
	}

	return o.store.GetRun(ctx, runID)
}
