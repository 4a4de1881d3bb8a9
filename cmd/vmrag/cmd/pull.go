package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newPullCmd() *cobra.Command {
	var remote, branch string
	var force bool

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull remote commits and sync the pulled range into the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				if remote == "" {
					remote = a.cfg.Dolt.Remote
				}
				summary, err := a.engine.Pull(ctx, remote, branch, force)
				if err != nil {
					return err
				}
				a.printer.Pull(summary)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "Remote name (default from config)")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "Branch to pull (default: current)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Discard uncommitted local changes")
	return cmd
}
