package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newBranchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "branches",
		Aliases: []string{"branch"},
		Short:   "List branches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				current, err := a.adapter.CurrentBranch(ctx)
				if err != nil {
					return err
				}
				branches, err := a.adapter.ListBranches(ctx)
				if err != nil {
					return err
				}
				a.printer.Branches(current, branches)
				return nil
			})
		},
	}
}
