package engine

import (
	"context"
	"time"

	"github.com/roach88/ynab-sync/internal/metrics"
	"github.com/roach88/ynab-sync/internal/model"
)

const (
	// DefaultHistoryLimit is the number of runs History returns by default.
	DefaultHistoryLimit = 10

	// MaxHistoryLimit caps History requests.
	MaxHistoryLimit = 100
)

// Status returns the most recently started run, or an idle run if none
// exist.
func (o *Orchestrator) Status(ctx context.Context) (model.SyncRun, error) {
	return o.store.CurrentRun(ctx)
}

// Pending returns every pending item across runs in FIFO order.
func (o *Orchestrator) Pending(ctx context.Context) ([]model.PendingItem, error) {
	return o.store.ListAllPending(ctx)
}

// History returns the most recent runs, newest first. limit is clamped to
// [1, MaxHistoryLimit]; zero or less means DefaultHistoryLimit.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]model.SyncRun, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	return o.store.RecentRuns(ctx, limit)
}

// Knowledge returns the stored knowledge for one budget.
func (o *Orchestrator) Knowledge(ctx context.Context, budgetID string) (model.ServerKnowledge, bool, error) {
	return o.store.GetKnowledge(ctx, budgetID)
}

// MetricsReport is the in-process metrics plus run counts by status over
// the trailing window.
type MetricsReport struct {
	metrics.Snapshot
	Window time.Duration        `json:"-"`
	Runs   map[model.Status]int `json:"runs"`
}

// Metrics returns the metrics snapshot and the number of runs started in
// the last window, by status.
func (o *Orchestrator) Metrics(ctx context.Context, window time.Duration) (MetricsReport, error) {
	counts, err := o.store.CountRunsSince(ctx, o.now().Add(-window))
	if err != nil {
		return MetricsReport{}, err
	}
	return MetricsReport{
		Snapshot: o.metrics.Snapshot(),
		Window:   window,
		Runs:     counts,
	}, nil
}
