package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newCheckoutCmd() *cobra.Command {
	var create, force bool

	cmd := &cobra.Command{
		Use:   "checkout <branch>",
		Short: "Switch branches and bring the branch's collection up to date",
		Long: `Switches the versioned store to the given branch and points vmrag at
that branch's vector collection. Creating a branch copies the current
collection without re-embedding; switching replays only the commits the
target collection has not seen.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.engine.Checkout(ctx, args[0], create, force)
				if err != nil {
					return err
				}
				a.printer.Checkout(result)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&create, "create", "b", false, "Create the branch from the current head")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Discard uncommitted local changes")
	return cmd
}
