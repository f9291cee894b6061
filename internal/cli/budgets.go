package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/ynab-sync/internal/ynab"
)

// NewBudgetsCommand creates the budgets command.
func NewBudgetsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "budgets",
		Short: "List budgets visible to the API token",
		Long:  `List the budgets the configured token can access, to find the ID for sync.`,
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rootOpts.openApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			budgets, err := a.client.GetBudgets(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list budgets", err)
			}
			return rootOpts.formatter(cmd).Success(budgetsResult(budgets))
		},
	}
}

type budgetsResult []ynab.BudgetSummary

func (b budgetsResult) renderText(w io.Writer) error {
	if len(b) == 0 {
		_, err := fmt.Fprintln(w, "No budgets found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLAST MODIFIED")
	for _, budget := range b {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", budget.ID, budget.Name, orDash(budget.LastModifiedOn))
	}
	return tw.Flush()
}
