package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/ynab-sync/internal/model"
	"github.com/roach88/ynab-sync/internal/payload"
)

// ErrNotFound is wrapped in the StorageError returned when a run or item
// does not exist.
var ErrNotFound = errors.New("not found")

const itemColumns = `
	p.id, p.sync_run_id, p.item_type, p.action, p.payload, p.status,
	p.error_message, p.retry_count, p.created_at, p.updated_at`

// StageItem enqueues a mutation for runID with status pending and a retry
// count of zero. The payload is stored in canonical JSON form.
func (s *Store) StageItem(ctx context.Context, runID string, itemType model.ItemType, action model.Action, raw json.RawMessage) (string, error) {
	const op = "stage item"

	if !itemType.Valid() {
		return "", model.NewValidationError(op, fmt.Sprintf("unknown item type %q", itemType))
	}
	if !action.Valid() {
		return "", model.NewValidationError(op, fmt.Sprintf("unknown action %q", action))
	}
	canonical, err := payload.Canonicalize(raw)
	if err != nil {
		return "", model.WrapValidationError(op, err)
	}

	id := s.ids.Generate()
	now := s.timestamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_item
			(id, sync_run_id, item_type, action, payload, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, id, runID, string(itemType), string(action), string(canonical), string(model.StatusPending), now, now)
	if err != nil {
		return "", model.NewStorageError(op, err)
	}
	return id, nil
}

// StageChanges stages every change for runID in one transaction, in order.
// Either all changes are staged or none are.
func (s *Store) StageChanges(ctx context.Context, runID string, changes []model.Change) ([]string, error) {
	const op = "stage changes"

	rows := make([][]any, 0, len(changes))
	staged := make([]string, 0, len(changes))
	now := s.timestamp()
	for i, c := range changes {
		if !c.ItemType.Valid() || !c.Action.Valid() {
			return nil, model.NewValidationError(op, fmt.Sprintf("change %d: unknown %s %s", i, c.Action, c.ItemType))
		}
		canonical, err := payload.Canonicalize(c.Payload)
		if err != nil {
			return nil, model.WrapValidationError(op, fmt.Errorf("change %d: %w", i, err))
		}
		id := s.ids.Generate()
		staged = append(staged, id)
		rows = append(rows, []any{id, runID, string(c.ItemType), string(c.Action), string(canonical),
			string(model.StatusPending), now, now})
	}
	if len(rows) == 0 {
		return staged, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pending_item
			(id, sync_run_id, item_type, action, payload, status, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`)
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	defer stmt.Close()

	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return nil, model.NewStorageError(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, model.NewStorageError(op, err)
	}
	return staged, nil
}

// ListPending returns the pending items of one run in FIFO order.
func (s *Store) ListPending(ctx context.Context, runID string) ([]model.PendingItem, error) {
	return s.queryItems(ctx, "list pending", `
		SELECT`+itemColumns+`
		FROM pending_item p
		WHERE p.sync_run_id = ? AND p.status = 'pending'
		ORDER BY p.created_at ASC, p.rowid ASC
	`, runID)
}

// ListDrainable returns the items a run should apply: its own pending items
// plus pending items left behind by finished runs of the same budget, such
// as those returned to pending by RequeueFailed. FIFO order.
func (s *Store) ListDrainable(ctx context.Context, runID string) ([]model.PendingItem, error) {
	return s.queryItems(ctx, "list drainable", `
		SELECT`+itemColumns+`
		FROM pending_item p
		JOIN sync_run r ON r.id = p.sync_run_id
		WHERE p.status = 'pending'
		  AND (
			p.sync_run_id = ?
			OR (r.status IN ('completed', 'failed')
			    AND r.budget_id = (SELECT budget_id FROM sync_run WHERE id = ?))
		  )
		ORDER BY p.created_at ASC, p.rowid ASC
	`, runID, runID)
}

// ListAllPending returns every pending item across runs in FIFO order.
func (s *Store) ListAllPending(ctx context.Context) ([]model.PendingItem, error) {
	return s.queryItems(ctx, "list all pending", `
		SELECT`+itemColumns+`
		FROM pending_item p
		WHERE p.status = 'pending'
		ORDER BY p.created_at ASC, p.rowid ASC
	`)
}

// ListItems returns every item of a run regardless of status.
func (s *Store) ListItems(ctx context.Context, runID string) ([]model.PendingItem, error) {
	return s.queryItems(ctx, "list items", `
		SELECT`+itemColumns+`
		FROM pending_item p
		WHERE p.sync_run_id = ?
		ORDER BY p.created_at ASC, p.rowid ASC
	`, runID)
}

// GetItem returns a single pending item by ID.
func (s *Store) GetItem(ctx context.Context, itemID string) (model.PendingItem, error) {
	items, err := s.queryItems(ctx, "get item", `
		SELECT`+itemColumns+`
		FROM pending_item p
		WHERE p.id = ?
	`, itemID)
	if err != nil {
		return model.PendingItem{}, err
	}
	if len(items) == 0 {
		return model.PendingItem{}, model.NewStorageError("get item", fmt.Errorf("item %s: %w", itemID, ErrNotFound))
	}
	return items[0], nil
}

// MarkOutcome records a status transition for an item.
//
// Moving to in_progress only changes the status. Moving to completed or
// failed increments retry_count and stores errMsg (cleared on completed).
// Returning an item to pending is done only through RequeueFailed.
func (s *Store) MarkOutcome(ctx context.Context, itemID string, status model.Status, errMsg string) error {
	const op = "mark outcome"

	var (
		res sql.Result
		err error
	)
	now := s.timestamp()

	switch status {
	case model.StatusInProgress:
		res, err = s.db.ExecContext(ctx, `
			UPDATE pending_item SET status = ?, updated_at = ?
			WHERE id = ?
		`, string(status), now, itemID)
	case model.StatusCompleted:
		res, err = s.db.ExecContext(ctx, `
			UPDATE pending_item
			SET status = ?, error_message = NULL, retry_count = retry_count + 1, updated_at = ?
			WHERE id = ?
		`, string(status), now, itemID)
	case model.StatusFailed:
		res, err = s.db.ExecContext(ctx, `
			UPDATE pending_item
			SET status = ?, error_message = ?, retry_count = retry_count + 1, updated_at = ?
			WHERE id = ?
		`, string(status), nullString(errMsg), now, itemID)
	default:
		return model.NewValidationError(op, fmt.Sprintf("cannot mark item %s", status))
	}
	if err != nil {
		return model.NewStorageError(op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return model.NewStorageError(op, err)
	}
	if n == 0 {
		return model.NewStorageError(op, fmt.Errorf("item %s: %w", itemID, ErrNotFound))
	}
	return nil
}

// RequeueFailed returns every failed item with retry_count below maxRetries
// to pending, across all runs, in a single statement. retry_count is not
// changed. Returns the number of items requeued.
func (s *Store) RequeueFailed(ctx context.Context, maxRetries int) (int64, error) {
	const op = "requeue failed"

	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_item
		SET status = 'pending', updated_at = ?
		WHERE status = 'failed' AND retry_count < ?
	`, s.timestamp(), maxRetries)
	if err != nil {
		return 0, model.NewStorageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, model.NewStorageError(op, err)
	}
	return n, nil
}

// FailInProgressItems marks every in-progress item of runID as failed with
// errMsg, counting it as an attempt. Used when a run is abandoned mid-drain.
func (s *Store) FailInProgressItems(ctx context.Context, runID, errMsg string) (int64, error) {
	const op = "fail in-progress items"

	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_item
		SET status = 'failed', error_message = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE sync_run_id = ? AND status = 'in_progress'
	`, nullString(errMsg), s.timestamp(), runID)
	if err != nil {
		return 0, model.NewStorageError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, model.NewStorageError(op, err)
	}
	return n, nil
}

// PurgePendingOlderThan deletes completed or failed items created before
// cutoff whose run has also finished. Pending and in-progress items, and
// items of a running sync, are never removed. Returns the number deleted.
func (s *Store) PurgePendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "purge pending"

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_item
		WHERE status IN ('completed', 'failed')
		  AND created_at < ?
		  AND sync_run_id IN (
			SELECT id FROM sync_run WHERE status IN ('completed', 'failed')
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

func (s *Store) queryItems(ctx context.Context, op, query string, args ...any) ([]model.PendingItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	defer rows.Close()

	items := []model.PendingItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, model.NewStorageError(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError(op, err)
	}
	return items, nil
}

func scanItem(sc scanner) (model.PendingItem, error) {
	var (
		item      model.PendingItem
		itemType  string
		action    string
		raw       string
		status    string
		errMsg    sql.NullString
		createdAt string
		updatedAt string
	)
	err := sc.Scan(&item.ID, &item.SyncRunID, &itemType, &action, &raw, &status,
		&errMsg, &item.RetryCount, &createdAt, &updatedAt)
	if err != nil {
		return model.PendingItem{}, err
	}

	item.ItemType = model.ItemType(itemType)
	item.Action = model.Action(action)
	item.Payload = json.RawMessage(raw)
	item.Status = model.Status(status)
	item.ErrorMessage = errMsg.String

	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.PendingItem{}, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.PendingItem{}, err
	}
	return item, nil
}
