package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxRetries is the number of terminal resolutions after which a failed
// pending item is no longer requeued.
const MaxRetries = 3

// Status is the lifecycle state of a SyncRun or PendingItem.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"

	// StatusIdle is reported when no run has ever been recorded.
	StatusIdle Status = "idle"
)

// IsTerminal reports whether the status is Completed or Failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a status that may be stored.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ItemType identifies the kind of remote entity a pending item mutates.
type ItemType string

const (
	ItemTransaction ItemType = "transaction"
	ItemBudget      ItemType = "budget"
	ItemCategory    ItemType = "category"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTransaction, ItemBudget, ItemCategory:
		return true
	}
	return false
}

// Action is the mutation a pending item applies to the remote entity.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// SyncRun is one end-to-end synchronization attempt for a budget.
type SyncRun struct {
	ID             string     `json:"id,omitempty"`
	BudgetID       string     `json:"budget_id,omitempty"`
	Status         Status     `json:"status"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ItemsProcessed int        `json:"items_processed"`
	ItemsFailed    int        `json:"items_failed"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// IdleRun returns the synthetic run reported when no run exists.
func IdleRun() SyncRun {
	return SyncRun{Status: StatusIdle}
}

// PendingItem is a staged mutation awaiting application to the remote service.
type PendingItem struct {
	ID           string          `json:"id"`
	SyncRunID    string          `json:"sync_run_id"`
	ItemType     ItemType        `json:"item_type"`
	Action       Action          `json:"action"`
	Payload      json.RawMessage `json:"payload"`
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// String returns a short description used in log lines.
func (p PendingItem) String() string {
	return fmt.Sprintf("%s %s %s", p.ID, p.Action, p.ItemType)
}

// ServerKnowledge is the last-seen remote change cursor per budget.
// A cursor of zero means the budget has never been synced.
type ServerKnowledge struct {
	BudgetID          string    `json:"budget_id"`
	TransactionCursor uint64    `json:"transaction_cursor"`
	CategoryCursor    uint64    `json:"category_cursor"`
	LastSyncTime      time.Time `json:"last_sync_time"`
}

// RunOutcome is the terminal state written when a run finishes.
type RunOutcome struct {
	Status         Status
	ItemsProcessed int
	ItemsFailed    int
	ErrorMessage   string
}

// KnowledgeUpdate carries a partial knowledge write. Nil cursors leave the
// stored value unchanged.
type KnowledgeUpdate struct {
	TransactionCursor *uint64
	CategoryCursor    *uint64
	SyncTime          time.Time
}

// Change is one remote-bound mutation produced by a fetch.
type Change struct {
	ItemType ItemType
	Action   Action
	Payload  json.RawMessage
}
