package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newCommitCmd() *cobra.Command {
	var message string
	var noStage bool

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Stage pending vector-side changes and commit them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				autoStage := a.cfg.Sync.AutoStage && !noStage
				result, err := a.engine.Commit(ctx, message, autoStage)
				if err != nil {
					return err
				}
				a.printer.Commit(result)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	cmd.Flags().BoolVar(&noStage, "no-stage", false, "Commit only what is already staged")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
