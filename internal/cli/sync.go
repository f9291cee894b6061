package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ynab-sync/internal/engine"
	"github.com/roach88/ynab-sync/internal/model"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Full       bool
	Categories bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <budget-id>",
		Short: "Run one sync for a budget",
		Long: `Fetch changes for a budget since the last sync, stage them and apply
every pending item of the budget, including items requeued by retry.

The command waits for the run to finish. It exits 1 when the run fails,
including when only some items failed.

Examples:
  ynab-sync sync 3f1c0d8e-budget
  ynab-sync sync 3f1c0d8e-budget --full --categories
  ynab-sync sync 3f1c0d8e-budget --format json`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "ignore stored server knowledge and refetch everything")
	cmd.Flags().BoolVar(&opts.Categories, "categories", false, "also sync category budgeted amounts")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command, budgetID string) error {
	a, err := opts.openApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	unlock, err := acquireLock(a.cfg.Database)
	if err != nil {
		return err
	}
	defer unlock()

	run, err := a.orch.StartSync(cmd.Context(), budgetID, engine.SyncOptions{
		Full:       opts.Full,
		Categories: opts.Categories,
	})
	if err != nil {
		return err
	}

	out := opts.formatter(cmd)
	if run.Status == model.StatusFailed {
		failure := NewExitError(ExitFailure, fmt.Sprintf("sync run %s failed: %s", run.ID, run.ErrorMessage))
		if err := out.Failure(runResult(run), failure); err != nil {
			return err
		}
		failure.Reported = true
		return failure
	}
	return out.Success(runResult(run))
}

// runResult renders one sync run.
type runResult model.SyncRun

func (r runResult) renderText(w io.Writer) error {
	run := model.SyncRun(r)
	if run.ID == "" {
		_, err := fmt.Fprintln(w, "No sync runs yet")
		return err
	}
	fmt.Fprintf(w, "Run:       %s\n", run.ID)
	fmt.Fprintf(w, "Budget:    %s\n", run.BudgetID)
	fmt.Fprintf(w, "Status:    %s\n", run.Status)
	if run.StartedAt != nil {
		fmt.Fprintf(w, "Started:   %s\n", run.StartedAt.Format(timeLayout))
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Completed: %s\n", run.CompletedAt.Format(timeLayout))
	}
	fmt.Fprintf(w, "Processed: %d\n", run.ItemsProcessed)
	_, err := fmt.Fprintf(w, "Failed:    %d\n", run.ItemsFailed)
	if err == nil && run.ErrorMessage != "" {
		_, err = fmt.Fprintf(w, "Error:     %s\n", run.ErrorMessage)
	}
	return err
}
