package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ynab-sync/internal/config"
	"github.com/roach88/ynab-sync/internal/engine"
)

// countResult reports how many records a maintenance command touched.
type countResult struct {
	Message string `json:"message"`
	Count   int64  `json:"count"`
}

func (c countResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, c.Message)
	return err
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue failed items that have attempts left",
		Long: `Return every failed item whose retry count is below max_retries to
pending. Requeued items are applied by the next sync of their budget.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.orch.RetryFailedItems(cmd.Context())
			if err != nil {
				return err
			}
			msg := "No failed items to retry"
			if n > 0 {
				msg = fmt.Sprintf("Requeued %d failed items", n)
			}
			return rootOpts.formatter(cmd).Success(countResult{Message: msg, Count: n})
		},
	}
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old run history and finished items",
		Long: `Delete finished runs older than --history-days and completed or failed
items older than --pending-days. Pending items and running syncs are kept.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.orch.Cleanup(cmd.Context(), a.cfg.HistoryDays, a.cfg.PendingDays)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(cleanupResult(res))
		},
	}

	cmd.Flags().Int("history-days", engine.DefaultHistoryDays, "keep runs completed within this many days")
	cmd.Flags().Int("pending-days", engine.DefaultPendingDays, "keep finished items created within this many days")
	rootOpts.bind(config.KeyHistoryDays, cmd.Flags().Lookup("history-days"))
	rootOpts.bind(config.KeyPendingDays, cmd.Flags().Lookup("pending-days"))

	return cmd
}

type cleanupResult engine.CleanupResult

func (c cleanupResult) renderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Deleted %d runs and %d items\n", c.RunsDeleted, c.ItemsDeleted)
	return err
}

// RecoverOptions holds flags for the recover command.
type RecoverOptions struct {
	*RootOptions
	OlderThan time.Duration
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecoverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Fail runs left in progress by a crashed process",
		Long: `Finalize runs that have been in progress longer than --older-than as
failed, and fail their in-progress items so retry can requeue them.

The command takes the database lock, so it refuses to run while a sync or
the server is active.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			unlock, err := acquireLock(a.cfg.Database)
			if err != nil {
				return err
			}
			defer unlock()

			n, err := a.orch.RecoverStaleRuns(cmd.Context(), opts.OlderThan)
			if err != nil {
				return err
			}
			msg := "No stale runs found"
			if n > 0 {
				msg = fmt.Sprintf("Recovered %d stale runs", n)
			}
			return opts.formatter(cmd).Success(countResult{Message: msg, Count: int64(n)})
		},
	}

	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", time.Hour, "minimum age of a run to recover")

	return cmd
}
