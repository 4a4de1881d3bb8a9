package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show commit history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				commits, err := a.adapter.Log(ctx, limit)
				if err != nil {
					return err
				}
				a.printer.Log(commits)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of commits to show")
	return cmd
}
