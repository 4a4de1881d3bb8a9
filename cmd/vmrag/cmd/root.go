// Package cmd provides the vmrag CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/vmrag/vmrag/internal/logging"
	"github.com/vmrag/vmrag/pkg/version"
)

var (
	flagDir      string
	flagLogLevel string

	loggingCleanup func()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vmrag",
		Short: "Versioned RAG: branch, commit, and merge a vector document store",
		Long: `vmrag keeps a vector store and a version-controlled document store in
lockstep. Documents are chunked and embedded into per-branch collections;
commits, pulls, checkouts, and merges on the versioned store drive
incremental re-syncs of the vectors.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("vmrag version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&flagDir, "dir", "C", ".", "Project directory")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		cleanup, err := logging.SetupDefault(flagLogLevel)
		if err != nil {
			return err
		}
		loggingCleanup = cleanup
		return nil
	}
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newCloneCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCommitCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newCheckoutCmd())
	cmd.AddCommand(newMergeCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newBranchesCmd())
	cmd.AddCommand(newLogCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI. Errors are rendered by the failing command; the
// caller only needs the exit code.
func Execute() error {
	return NewRootCmd().Execute()
}
