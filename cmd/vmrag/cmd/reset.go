package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "reset <ref>",
		Short: "Hard-reset to a ref and regenerate the vector collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				sync, err := a.engine.Reset(ctx, args[0], confirm)
				if err != nil {
					return err
				}
				a.printer.Successf("Reset to %s", args[0])
				a.printer.Sync(sync)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm discarding uncommitted local changes")
	return cmd
}
