package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/ynab-sync/internal/engine"
	"github.com/roach88/ynab-sync/internal/model"
	"github.com/roach88/ynab-sync/internal/payload"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the most recent sync run",
		Long: `Show the most recent sync run across all budgets, or "idle" if no run
has been recorded.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.orch.Status(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(runResult(run))
		},
	}
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync runs, newest first",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Limit < 1 || opts.Limit > engine.MaxHistoryLimit {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("--limit must be between 1 and %d", engine.MaxHistoryLimit))
			}

			a, err := opts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.orch.History(cmd.Context(), opts.Limit)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(historyResult(runs))
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", engine.DefaultHistoryLimit, "number of runs to show")

	return cmd
}

type historyResult []model.SyncRun

func (h historyResult) renderText(w io.Writer) error {
	if len(h) == 0 {
		_, err := fmt.Fprintln(w, "No sync runs yet")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tBUDGET\tSTATUS\tSTARTED\tPROCESSED\tFAILED")
	for _, run := range h {
		started := "-"
		if run.StartedAt != nil {
			started = run.StartedAt.Format(timeLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n",
			run.ID, run.BudgetID, run.Status, started, run.ItemsProcessed, run.ItemsFailed)
	}
	return tw.Flush()
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List items waiting to be applied",
		Long: `List pending items across all runs in the order they will be applied.
Amounts are shown in currency units.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.orch.Pending(cmd.Context())
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(pendingResult(items))
		},
	}
}

type pendingResult []model.PendingItem

func (p pendingResult) renderText(w io.Writer) error {
	if len(p) == 0 {
		_, err := fmt.Fprintln(w, "No pending items")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tRUN\tTYPE\tACTION\tID\tLABEL\tAMOUNT\tRETRIES")
	for _, item := range p {
		sum := payload.Summarize(item.Payload)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			item.ID, item.SyncRunID, item.ItemType, item.Action,
			orDash(sum.ID), orDash(sum.Label), orDash(sum.Amount), item.RetryCount)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
