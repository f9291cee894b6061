// Package model defines the domain types shared by the synchronization engine.
//
// The types mirror the three durable tables of the store:
//   - SyncRun: one row per synchronization attempt
//   - PendingItem: one row per staged remote mutation, owned by a SyncRun
//   - ServerKnowledge: one row per budget holding the remote change cursors
//
// # Status Lifecycle
//
// A SyncRun is created in StatusInProgress and transitions exactly once to
// StatusCompleted or StatusFailed. Terminal states are absorbing.
// StatusIdle is synthetic: it is reported when no run exists and is never stored.
//
// A PendingItem starts in StatusPending, may pass through StatusInProgress
// while it is being applied, and resolves to StatusCompleted or StatusFailed.
// A failed item may be reactivated to StatusPending while RetryCount < MaxRetries.
//
// # Errors
//
// All engine components report failures as *Error with one of the codes
// ErrCodeStorage, ErrCodeRemote, ErrCodeValidation or ErrCodeConfiguration.
// Use the IsXxx helpers to classify wrapped errors.
package model
