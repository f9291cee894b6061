// Package store provides SQLite-backed durable storage for the sync engine.
//
// Three tables back the engine's components:
//   - server_knowledge: per-budget change cursors (Knowledge Store)
//   - pending_item: staged mutations awaiting the remote API (Pending Item Queue)
//   - sync_run: one row per sync attempt (Sync Run Recorder)
//
// # Invariants
//
// Cursors never decrease: UpsertKnowledge merges with MAX() so a stale
// write cannot move a budget backwards.
//
// A run leaves in_progress exactly once: FinalizeRun only updates rows that
// are still in_progress.
//
// retry_count only increases, and only when an item reaches completed or
// failed. RequeueFailed flips failed items back to pending without touching it.
//
// Queue reads are FIFO: ORDER BY created_at ASC, rowid ASC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Items cascade with their run
//
// Every error returned by this package is a model.Error with code STORAGE,
// except argument checks, which are VALIDATION.
package store
