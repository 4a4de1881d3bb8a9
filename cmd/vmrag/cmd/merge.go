package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/vmrag/vmrag/internal/conflict"
	"github.com/vmrag/vmrag/internal/engine"
)

func newMergeCmd() *cobra.Command {
	var force bool
	var auto bool
	var detailed bool
	var message string
	var resolveFile string

	cmd := &cobra.Command{
		Use:   "merge <branch>",
		Short: "Merge a branch; conflicts are reported with resolution options",
		Long: `Merges the given branch into the current one. A conflicted merge stops
and lists each conflict with its id, classification, and the resolution
strategies it accepts. Re-run with --auto to compose non-overlapping
changes automatically, or with --resolve pointing at a JSON file mapping
conflict ids to resolutions:

  {"CONF-abc123def456": {"strategy": "keep_theirs"},
   "CONF-fed654cba321": {"strategy": "field_merge",
                         "fields": {"content": "theirs", "title": "ours"}}}

Conflicts on vmrag's own bookkeeping tables are resolved in favor of the
current branch automatically; the next sync rebuilds them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, func(ctx context.Context, a *app) error {
				return runMerge(ctx, a, args[0], mergeOptions{
					force:       force,
					auto:        auto,
					detailed:    detailed,
					message:     message,
					resolveFile: resolveFile,
				})
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Discard uncommitted local changes")
	cmd.Flags().BoolVar(&auto, "auto", false, "Auto-resolve conflicts with non-overlapping changes")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Show per-field diffs for each conflict")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Merge commit message")
	cmd.Flags().StringVar(&resolveFile, "resolve", "", "JSON file mapping conflict ids to resolutions")
	return cmd
}

type mergeOptions struct {
	force       bool
	auto        bool
	detailed    bool
	message     string
	resolveFile string
}

func runMerge(ctx context.Context, a *app, source string, opts mergeOptions) error {
	outcome, err := a.engine.Merge(ctx, source, opts.force)
	if err != nil {
		return err
	}
	if !outcome.HasConflicts {
		a.printer.Merge(outcome)
		return nil
	}

	analyzer := a.analyzer()

	// No resolution input: report the conflicts and leave the merge open.
	if !opts.auto && opts.resolveFile == "" {
		a.printer.Merge(outcome)
		preview, err := analyzer.Preview(ctx, conflict.PreviewOptions{
			IncludeAutoResolvable: true,
			Detailed:              opts.detailed,
		})
		if err != nil {
			return err
		}
		a.printer.Conflicts(preview)
		a.printer.Warnf("Re-run with --auto or --resolve <file> to finish the merge")
		return nil
	}

	var resolutions map[string]conflict.Resolution
	if opts.resolveFile != "" {
		raw, err := os.ReadFile(opts.resolveFile)
		if err != nil {
			return err
		}
		if resolutions, err = conflict.ParseResolutions(raw); err != nil {
			return err
		}
	}

	result, err := analyzer.Execute(ctx, conflict.ExecuteOptions{
		Resolutions:          resolutions,
		AutoResolveRemaining: opts.auto,
		Message:              opts.message,
	})
	if err != nil {
		return err
	}
	a.printer.Successf("Resolved %d conflicts (%d automatically), merge commit %s",
		result.Resolved, result.AutoResolved, result.MergeCommit)

	// The resolved merge commit still has to reach the vector store.
	sync, err := syncToCommit(ctx, a, result.MergeCommit)
	if err != nil {
		return err
	}
	a.printer.Sync(sync)
	return nil
}

// syncToCommit brings the current branch's collection up to the given commit,
// replaying the recorded range when sync state exists and rebuilding from
// scratch when it does not.
func syncToCommit(ctx context.Context, a *app, commit string) (*engine.SyncSummary, error) {
	branch, err := a.adapter.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	collection := a.engine.CollectionForBranch(branch)

	state, err := a.store.GetSyncState(ctx, collection)
	if err != nil {
		return nil, err
	}
	if state == nil || state.LastSyncCommit == "" {
		return a.engine.FullResync(ctx, collection)
	}
	return a.engine.CommitRangeSync(ctx, collection, state.LastSyncCommit, commit)
}
