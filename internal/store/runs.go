package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/ynab-sync/internal/model"
)

const runColumns = `
	id, budget_id, status, started_at, completed_at,
	items_processed, items_failed, error_message`

// CreateRun records a new in-progress run for budgetID and returns its ID.
func (s *Store) CreateRun(ctx context.Context, budgetID string) (string, error) {
	id := s.ids.Generate()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_run (id, budget_id, status, started_at)
		VALUES (?, ?, 'in_progress', ?)
	`, id, budgetID, s.timestamp())
	if err != nil {
		return "", model.NewStorageError("create run", err)
	}
	return id, nil
}

// FinalizeRun moves an in-progress run to its terminal state and sets
// completed_at. A run that is already terminal is left untouched; the
// returned bool reports whether this call performed the transition.
func (s *Store) FinalizeRun(ctx context.Context, runID string, outcome model.RunOutcome) (bool, error) {
	const op = "finalize run"

	if !outcome.Status.IsTerminal() {
		return false, model.NewValidationError(op, fmt.Sprintf("status %q is not terminal", outcome.Status))
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_run
		SET status = ?, completed_at = ?, items_processed = ?, items_failed = ?, error_message = ?
		WHERE id = ? AND status = 'in_progress'
	`, string(outcome.Status), s.timestamp(), outcome.ItemsProcessed, outcome.ItemsFailed,
		nullString(outcome.ErrorMessage), runID)
	if err != nil {
		return false, model.NewStorageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, model.NewStorageError(op, err)
	}
	if n > 0 {
		return true, nil
	}

	// Distinguish "already terminal" from "no such run".
	if _, err := s.GetRun(ctx, runID); err != nil {
		return false, err
	}
	return false, nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (model.SyncRun, error) {
	const op = "get run"

	row := s.db.QueryRowContext(ctx, `SELECT`+runColumns+` FROM sync_run WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncRun{}, model.NewStorageError(op, fmt.Errorf("run %s: %w", runID, ErrNotFound))
	}
	if err != nil {
		return model.SyncRun{}, model.NewStorageError(op, err)
	}
	return run, nil
}

// CurrentRun returns the most recently started run, or the synthetic idle
// run when none has been recorded.
func (s *Store) CurrentRun(ctx context.Context) (model.SyncRun, error) {
	runs, err := s.RecentRuns(ctx, 1)
	if err != nil {
		return model.SyncRun{}, err
	}
	if len(runs) == 0 {
		return model.IdleRun(), nil
	}
	return runs[0], nil
}

// RecentRuns returns up to limit runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		return []model.SyncRun{}, nil
	}
	return s.queryRuns(ctx, "recent runs", `
		SELECT`+runColumns+`
		FROM sync_run
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
}

// ListStaleRuns returns in-progress runs started before startedBefore,
// oldest first.
func (s *Store) ListStaleRuns(ctx context.Context, startedBefore time.Time) ([]model.SyncRun, error) {
	return s.queryRuns(ctx, "list stale runs", `
		SELECT`+runColumns+`
		FROM sync_run
		WHERE status = 'in_progress' AND started_at < ?
		ORDER BY started_at ASC, rowid ASC
	`, formatTime(startedBefore))
}

// CountRunsSince returns the number of runs per status started at or
// after since.
func (s *Store) CountRunsSince(ctx context.Context, since time.Time) (map[model.Status]int, error) {
	const op = "count runs"

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM sync_run
		WHERE started_at >= ?
		GROUP BY status
	`, formatTime(since))
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	defer rows.Close()

	counts := map[model.Status]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, model.NewStorageError(op, err)
		}
		counts[model.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError(op, err)
	}
	return counts, nil
}

// PurgeRunsOlderThan deletes terminal runs completed before cutoff. Their
// terminal items are removed by the foreign key cascade. In-progress runs,
// and runs that still own a pending or in-progress item (for example one
// requeued by RequeueFailed), are never deleted. Returns the number of runs
// deleted.
func (s *Store) PurgeRunsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "purge runs"

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_run
		WHERE status IN ('completed', 'failed')
		  AND completed_at IS NOT NULL
		  AND completed_at < ?
		  AND NOT EXISTS (
		      SELECT 1 FROM pending_item p
		      WHERE p.sync_run_id = sync_run.id
		        AND p.status IN ('pending', 'in_progress')
		  )
	`, formatTime(cutoff))
	if err != nil {
		return 0, model.NewStorageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, model.NewStorageError(op, err)
	}
	return n, nil
}

func (s *Store) queryRuns(ctx context.Context, op, query string, args ...any) ([]model.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	defer rows.Close()

	runs := []model.SyncRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, model.NewStorageError(op, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError(op, err)
	}
	return runs, nil
}

func scanRun(sc scanner) (model.SyncRun, error) {
	var (
		run         model.SyncRun
		status      string
		startedAt   string
		completedAt sql.NullString
		errMsg      sql.NullString
	)
	err := sc.Scan(&run.ID, &run.BudgetID, &status, &startedAt, &completedAt,
		&run.ItemsProcessed, &run.ItemsFailed, &errMsg)
	if err != nil {
		return model.SyncRun{}, err
	}

	run.Status = model.Status(status)
	run.ErrorMessage = errMsg.String

	started, err := parseTime(startedAt)
	if err != nil {
		return model.SyncRun{}, err
	}
	run.StartedAt = &started
	if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return model.SyncRun{}, err
	}
	return run, nil
}
