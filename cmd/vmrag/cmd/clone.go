package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newCloneCmd() *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "clone <url>",
		Short: "Clone a remote repository and build its vector collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.engine.Clone(ctx, args[0], branch)
				if err != nil {
					return err
				}
				a.printer.Checkout(result)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "", "Branch to check out after cloning")
	return cmd
}
