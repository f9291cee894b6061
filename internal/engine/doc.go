// Package engine implements the sync orchestrator.
//
// A sync run for one budget moves through a fixed sequence:
//
//  1. Acquire the per-budget lock.
//  2. Create the run record (in_progress).
//  3. Read the budget's cursors from the knowledge cache.
//  4. Fetch remote changes since those cursors.
//  5. Stage every change as a pending item.
//  6. Drain the budget's pending items one at a time through the gateway.
//  7. Persist the new cursors.
//  8. Finalize the run as completed or failed.
//
// A fetch failure aborts the run before anything is staged. Per-item
// failures are recorded on the item and do not stop the drain. The run is
// finalized on every exit path, including panics, and the lock is released
// last.
//
// CONCURRENCY:
//
// Runs for different budgets proceed concurrently. Runs for the same budget
// are serialized by a keyed lock, so a second run never reads a cursor the
// first is about to advance. Items are drained sequentially within a run.
//
// The knowledge cache is warmed by Init and written through only after the
// store accepts an update. Status queries always read the store.
package engine
