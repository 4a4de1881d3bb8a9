package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newPushCmd() *cobra.Command {
	var remote, branch string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push the current branch to a remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				if remote == "" {
					remote = a.cfg.Dolt.Remote
				}
				if err := a.engine.Push(ctx, remote, branch); err != nil {
					return err
				}
				a.printer.Successf("Pushed to %s", remote)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "Remote name (default from config)")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "Branch to push (default: current)")
	return cmd
}
