package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ynab-sync/internal/model"
)

// GetKnowledge returns the stored cursors for a budget.
// found is false when the budget has never been synced.
func (s *Store) GetKnowledge(ctx context.Context, budgetID string) (model.ServerKnowledge, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT budget_id, transaction_cursor, category_cursor, last_sync_time
		FROM server_knowledge
		WHERE budget_id = ?
	`, budgetID)

	k, err := scanKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ServerKnowledge{BudgetID: budgetID}, false, nil
	}
	if err != nil {
		return model.ServerKnowledge{}, false, model.NewStorageError("get knowledge", err)
	}
	return k, true, nil
}

// UpsertKnowledge merges update into the stored row for budgetID and returns
// the resulting knowledge.
//
// Nil cursors keep the stored value. A supplied cursor lower than the stored
// one is ignored, so cursors never decrease. Repeating the same call leaves
// the row unchanged.
func (s *Store) UpsertKnowledge(ctx context.Context, budgetID string, update model.KnowledgeUpdate) (model.ServerKnowledge, error) {
	const op = "upsert knowledge"

	if budgetID == "" {
		return model.ServerKnowledge{}, model.NewValidationError(op, "budget id is required")
	}

	syncTime := update.SyncTime
	if syncTime.IsZero() {
		syncTime = s.now()
	}

	txCursor, err := optionalCursor(update.TransactionCursor)
	if err != nil {
		return model.ServerKnowledge{}, model.NewStorageError(op, err)
	}
	catCursor, err := optionalCursor(update.CategoryCursor)
	if err != nil {
		return model.ServerKnowledge{}, model.NewStorageError(op, err)
	}

	// excluded.* carries 0 for a nil cursor, which MAX() then ignores.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO server_knowledge (budget_id, transaction_cursor, category_cursor, last_sync_time)
		VALUES (?, COALESCE(?, 0), COALESCE(?, 0), ?)
		ON CONFLICT(budget_id) DO UPDATE SET
			transaction_cursor = MAX(server_knowledge.transaction_cursor, excluded.transaction_cursor),
			category_cursor    = MAX(server_knowledge.category_cursor, excluded.category_cursor),
			last_sync_time     = MAX(server_knowledge.last_sync_time, excluded.last_sync_time)
	`, budgetID, txCursor, catCursor, formatTime(syncTime))
	if err != nil {
		return model.ServerKnowledge{}, model.NewStorageError(op, err)
	}

	k, _, err := s.GetKnowledge(ctx, budgetID)
	return k, err
}

// LoadAllKnowledge returns every stored knowledge row keyed by budget ID.
// Used to warm the orchestrator's cache at startup.
func (s *Store) LoadAllKnowledge(ctx context.Context) (map[string]model.ServerKnowledge, error) {
	const op = "load knowledge"

	rows, err := s.db.QueryContext(ctx, `
		SELECT budget_id, transaction_cursor, category_cursor, last_sync_time
		FROM server_knowledge
		ORDER BY budget_id ASC
	`)
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	defer rows.Close()

	out := make(map[string]model.ServerKnowledge)
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, model.NewStorageError(op, err)
		}
		out[k.BudgetID] = k
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewStorageError(op, err)
	}
	return out, nil
}

func scanKnowledge(sc scanner) (model.ServerKnowledge, error) {
	var (
		k         model.ServerKnowledge
		txCursor  int64
		catCursor int64
		syncTime  string
	)
	if err := sc.Scan(&k.BudgetID, &txCursor, &catCursor, &syncTime); err != nil {
		return model.ServerKnowledge{}, err
	}
	t, err := parseTime(syncTime)
	if err != nil {
		return model.ServerKnowledge{}, err
	}
	k.TransactionCursor = uint64(txCursor)
	k.CategoryCursor = uint64(catCursor)
	k.LastSyncTime = t
	return k, nil
}

// optionalCursor converts a cursor for SQLite's signed INTEGER column.
func optionalCursor(c *uint64) (any, error) {
	if c == nil {
		return nil, nil
	}
	if *c > 1<<63-1 {
		return nil, fmt.Errorf("cursor %d exceeds int64 range", *c)
	}
	return int64(*c), nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
