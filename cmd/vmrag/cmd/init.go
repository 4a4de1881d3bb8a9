package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize versioning for an existing vector store",
		Long: `Creates the versioned store, imports every document the vector store
already holds, and records the first commit. Collections and documents in
the vector store are preserved as-is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.engine.InitFromVector(ctx, message)
				if err != nil {
					return err
				}
				a.printer.Successf("Initialized versioned store on %s", result.Branch)
				a.printer.Commit(result)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "Initial commit message")
	return cmd
}
