package engine

import (
	"context"
	"fmt"

	"github.com/vmrag/vmrag/internal/chunk"
	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
)

// CommitResult reports a successful commit.
type CommitResult struct {
	Branch     string             `json:"branch"`
	CommitHash string             `json:"commit_hash"`
	Staged     model.LocalChanges `json:"staged"`
}

// PullSummary reports a pull and the sync it triggered.
type PullSummary struct {
	Branch      string       `json:"branch"`
	Before      string       `json:"commit_before"`
	After       string       `json:"commit_after"`
	FastForward bool         `json:"fast_forward"`
	Sync        *SyncSummary `json:"sync,omitempty"`
}

// CheckoutResult reports a branch switch or creation.
type CheckoutResult struct {
	Branch     string       `json:"branch"`
	Collection string       `json:"collection_name"`
	Created    bool         `json:"created"`
	Sync       *SyncSummary `json:"sync,omitempty"`
}

// MergeOutcome is a tagged result: conflicts are reported, never raised.
type MergeOutcome struct {
	SourceBranch   string       `json:"source_branch"`
	MergeCommit    string       `json:"merge_commit,omitempty"`
	HasConflicts   bool         `json:"has_conflicts"`
	ConflictTables []string     `json:"conflict_tables,omitempty"`
	Sync           *SyncSummary `json:"sync,omitempty"`
}

// StatusReport is the combined view of both stores for the current branch.
type StatusReport struct {
	Branch       string                `json:"branch"`
	Head         string                `json:"head_commit"`
	Collection   string                `json:"collection_name"`
	Clean        bool                  `json:"clean"`
	StagedTables []string              `json:"staged_tables,omitempty"`
	LocalChanges model.LocalChanges    `json:"local_changes"`
	Pending      []model.DocumentDelta `json:"pending_versioned_to_vector,omitempty"`
	SyncState    *model.SyncState      `json:"sync_state,omitempty"`
}

// uncommittedError reports unstaged vector-side edits with per-kind counts
// so the caller can decide between staging and forcing.
func uncommittedError(changes model.LocalChanges) *errors.SyncError {
	guardErr := errors.Newf(errors.CodeUncommittedChanges,
		"%d local vector-side changes are not committed", changes.Total()).
		WithSuggestion("run commit to stage them, or pass force to discard them")
	for kind, count := range changes.Counts() {
		guardErr.WithDetail(kind, fmt.Sprintf("%d", count))
	}
	return guardErr
}

// Commit stages pending vector-side changes (when autoStage is set), commits
// the versioned store, and advances sync-state to the new head.
func (e *Engine) Commit(ctx context.Context, message string, autoStage bool) (*CommitResult, error) {
	branch, collection, err := e.currentCollection(ctx)
	if err != nil {
		return nil, err
	}
	release, err := e.locks.acquire(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer release()

	op := e.beginOperation(ctx, model.OpCommit, branch, collection)
	result, err := e.commitLocked(ctx, collection, message, autoStage)
	if err == nil {
		op.AddedCount = len(result.Staged.New)
		op.UpdatedCount = len(result.Staged.Modified)
		op.DeletedCount = len(result.Staged.Deleted)
		result.Branch = branch
	}
	e.finishOperation(ctx, op, err)
	return result, err
}

func (e *Engine) commitLocked(ctx context.Context, collection, message string, autoStage bool) (*CommitResult, error) {
	var staged model.LocalChanges
	if autoStage {
		changes, err := e.detector.LocalChangesInVector(ctx, collection)
		if err != nil {
			return nil, err
		}
		for _, bucket := range [][]model.DocumentDelta{changes.New, changes.Modified, changes.Deleted} {
			for _, delta := range bucket {
				if err := ctx.Err(); err != nil {
					return nil, errors.Wrap(errors.CodeOperationFailed, err)
				}
				if err := e.StageDocument(ctx, collection, delta); err != nil {
					return nil, err
				}
			}
		}
		staged = changes
	}

	if err := e.vcs.AddAll(ctx); err != nil {
		return nil, err
	}
	commitHash, err := e.vcs.Commit(ctx, message)
	if err != nil {
		// NO_CHANGES passes through untouched so callers can treat it as
		// a non-failure.
		return nil, err
	}

	if err := e.writeSyncState(ctx, collection, commitHash); err != nil {
		return nil, err
	}
	return &CommitResult{CommitHash: commitHash, Staged: staged}, nil
}

// Pull fetches and merges the remote branch, then syncs the pulled range
// into the vector store. Unstaged vector-side changes block a non-forced
// pull; a forced pull discards them first.
func (e *Engine) Pull(ctx context.Context, remote, branch string, force bool) (*PullSummary, error) {
	currentBranch, collection, err := e.currentCollection(ctx)
	if err != nil {
		return nil, err
	}
	release, err := e.locks.acquire(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer release()

	op := e.beginOperation(ctx, model.OpPull, currentBranch, collection)
	summary, err := e.pullLocked(ctx, collection, remote, branch, force)
	if err == nil {
		summary.Branch = currentBranch
		if summary.Sync != nil {
			op.AddedCount = summary.Sync.Added
			op.UpdatedCount = summary.Sync.Modified
			op.DeletedCount = summary.Sync.Deleted
		}
	}
	e.finishOperation(ctx, op, err)
	return summary, err
}

func (e *Engine) pullLocked(ctx context.Context, collection, remote, branch string, force bool) (*PullSummary, error) {
	changes, err := e.detector.LocalChangesInVector(ctx, collection)
	if err != nil {
		return nil, err
	}
	if changes.Total() > 0 {
		if !force {
			return nil, uncommittedError(changes)
		}
		if err := e.discardLocalChanges(ctx, collection, changes); err != nil {
			return nil, err
		}
	}

	before, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}

	pullResult, err := e.vcs.Pull(ctx, remote, branch)
	if err != nil {
		return nil, err
	}
	if pullResult.HasConflicts {
		return nil, errors.Newf(errors.CodeMergeConflict,
			"pull produced merge conflicts").
			WithSuggestion("inspect conflicts with merge preview and resolve them")
	}

	after, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}

	summary := &PullSummary{Before: before, After: after, FastForward: pullResult.FastForward}
	if after != before {
		sync, err := e.CommitRangeSync(ctx, collection, before, after)
		if err != nil {
			return nil, err
		}
		summary.Sync = sync
	}
	return summary, nil
}

// discardLocalChanges reverts vector-side edits to the versioned store's
// truth: vector-only documents are deleted, everything else is regenerated
// from the committed content.
func (e *Engine) discardLocalChanges(ctx context.Context, collection string, changes model.LocalChanges) error {
	head, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		return err
	}

	for _, delta := range changes.New {
		records, err := e.vector.QueryByMetadata(ctx, collection,
			map[string]any{model.MetaSourceID: delta.DocID})
		if err != nil {
			return err
		}
		ids := make([]string, len(records))
		for i, rec := range records {
			ids[i] = rec.ID
		}
		if err := e.vector.Delete(ctx, collection, ids); err != nil {
			return err
		}
	}

	restore := append(append([]model.DocumentDelta{}, changes.Modified...), changes.Deleted...)
	for _, delta := range restore {
		doc, err := e.store.GetDocument(ctx, model.PrimaryCorpus, delta.DocID)
		if err != nil {
			return err
		}
		if doc == nil {
			continue
		}
		diffType := model.DiffModified
		if delta.Kind == model.ChangeDeleted {
			diffType = model.DiffAdded
		}
		row := model.DiffRow{
			Type:      diffType,
			DocID:     doc.DocID,
			ToHash:    doc.ContentHash,
			ToContent: doc.Content,
			Title:     doc.Title,
			DocType:   doc.DocType,
			Metadata:  doc.Metadata,
		}
		if _, err := e.ApplyDiffRow(ctx, collection, head, row); err != nil {
			return err
		}
	}

	return e.store.ClearAllDirty(ctx, model.PrimaryCorpus)
}

// Push publishes the branch to the remote.
func (e *Engine) Push(ctx context.Context, remote, branch string) error {
	currentBranch, collection, err := e.currentCollection(ctx)
	if err != nil {
		return err
	}
	if branch == "" {
		branch = currentBranch
	}
	op := e.beginOperation(ctx, model.OpPush, currentBranch, collection)
	err = e.vcs.Push(ctx, remote, branch)
	e.finishOperation(ctx, op, err)
	return err
}

// Checkout switches branches, keeping the vector store aligned. Creating a
// branch copies the current collection without re-embedding; switching
// replays the recorded sync range, or fully resyncs when no state exists.
func (e *Engine) Checkout(ctx context.Context, branch string, create, force bool) (*CheckoutResult, error) {
	currentBranch, currentCollection, err := e.currentCollection(ctx)
	if err != nil {
		return nil, err
	}

	branches, err := e.vcs.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	if err := checkNamingCollision(e.cfg.Sync.CollectionPrefix, e.cfg.Sync.MaxCollectionName, branches, branch); err != nil {
		return nil, err
	}
	target := e.CollectionForBranch(branch)

	release, err := e.locks.acquire(ctx, currentCollection)
	if err != nil {
		return nil, err
	}
	defer release()

	op := e.beginOperation(ctx, model.OpCheckout, currentBranch, currentCollection, target)
	result, err := e.checkoutLocked(ctx, currentCollection, target, branch, create, force)
	e.finishOperation(ctx, op, err)
	return result, err
}

func (e *Engine) checkoutLocked(ctx context.Context, currentCollection, target, branch string, create, force bool) (*CheckoutResult, error) {
	if !force {
		changes, err := e.detector.LocalChangesInVector(ctx, currentCollection)
		if err != nil {
			return nil, err
		}
		if changes.Total() > 0 {
			return nil, uncommittedError(changes)
		}
	}

	if err := e.vcs.Checkout(ctx, branch, create); err != nil {
		return nil, err
	}
	result := &CheckoutResult{Branch: branch, Collection: target, Created: create}

	if create {
		// A new branch starts where the current one is; copying chunks
		// carries the embeddings over so nothing is re-embedded.
		sourceExists, err := e.vector.CollectionExists(ctx, currentCollection)
		if err != nil {
			return nil, err
		}
		if sourceExists {
			if err := e.vector.CopyCollection(ctx, currentCollection, target); err != nil {
				return nil, err
			}
		}
		if state, err := e.store.GetSyncState(ctx, currentCollection); err != nil {
			return nil, err
		} else if state != nil {
			branched := *state
			branched.Collection = target
			if err := e.store.UpsertSyncState(ctx, &branched); err != nil {
				return nil, err
			}
		}
		return result, nil
	}

	head, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}
	state, err := e.store.GetSyncState(ctx, target)
	if err != nil {
		return nil, err
	}
	exists, err := e.vector.CollectionExists(ctx, target)
	if err != nil {
		return nil, err
	}

	switch {
	case exists && state != nil && state.LastSyncCommit == head:
		// Collection already reflects this head.
	case exists && state != nil:
		sync, err := e.CommitRangeSync(ctx, target, state.LastSyncCommit, head)
		if err != nil {
			return nil, err
		}
		result.Sync = sync
	default:
		sync, err := e.FullResync(ctx, target)
		if err != nil {
			return nil, err
		}
		result.Sync = sync
	}
	return result, nil
}

// Merge merges a source branch into the current one. Conflicts come back as
// a tagged outcome for the conflict resolver; derived bookkeeping tables are
// auto-resolved in favor of the current branch first.
func (e *Engine) Merge(ctx context.Context, sourceBranch string, force bool) (*MergeOutcome, error) {
	currentBranch, collection, err := e.currentCollection(ctx)
	if err != nil {
		return nil, err
	}
	release, err := e.locks.acquire(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer release()

	op := e.beginOperation(ctx, model.OpMerge, currentBranch, collection)
	outcome, err := e.mergeLocked(ctx, collection, sourceBranch, force)
	if err == nil && outcome.Sync != nil {
		op.AddedCount = outcome.Sync.Added
		op.UpdatedCount = outcome.Sync.Modified
		op.DeletedCount = outcome.Sync.Deleted
	}
	e.finishOperation(ctx, op, err)
	return outcome, err
}

func (e *Engine) mergeLocked(ctx context.Context, collection, sourceBranch string, force bool) (*MergeOutcome, error) {
	if !force {
		changes, err := e.detector.LocalChangesInVector(ctx, collection)
		if err != nil {
			return nil, err
		}
		if changes.Total() > 0 {
			return nil, uncommittedError(changes)
		}
	}

	before, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}

	mergeResult, err := e.vcs.Merge(ctx, sourceBranch)
	if err != nil {
		return nil, err
	}

	outcome := &MergeOutcome{SourceBranch: sourceBranch}
	if mergeResult.HasConflicts {
		tables, err := e.resolveDerivedConflicts(ctx)
		if err != nil {
			return nil, err
		}
		if len(tables) > 0 {
			outcome.HasConflicts = true
			outcome.ConflictTables = tables
			return outcome, nil
		}
		// Only derived tables conflicted; finalize the merge.
		if _, err := e.vcs.Commit(ctx, "merge "+sourceBranch); err != nil && !errors.Is(err, errors.CodeNoChanges) {
			return nil, err
		}
	}

	after, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}
	outcome.MergeCommit = after

	if after != before {
		sync, err := e.CommitRangeSync(ctx, collection, before, after)
		if err != nil {
			return nil, err
		}
		outcome.Sync = sync
	}
	return outcome, nil
}

// resolveDerivedConflicts clears conflicts on bookkeeping tables, which are
// derived and regenerated by the next sync, and returns the tables that
// still need caller resolution.
func (e *Engine) resolveDerivedConflicts(ctx context.Context) ([]string, error) {
	tables, err := e.vcs.ConflictTables(ctx)
	if err != nil {
		return nil, err
	}

	var remaining []string
	for _, table := range tables {
		if derivedTables[table] {
			if err := e.vcs.ResolveConflicts(ctx, table, "ours"); err != nil {
				return nil, err
			}
			continue
		}
		remaining = append(remaining, table)
	}
	return remaining, nil
}

// derivedTables can always be auto-resolved: their contents are rebuilt from
// the stores on the next sync.
var derivedTables = map[string]bool{
	"document_sync_log": true,
	"chroma_sync_state": true,
	"dirty_documents":   true,
	"sync_operations":   true,
}

// Reset discards versioned working-set changes and regenerates the vector
// collection. Pending vector-side changes require explicit confirmation.
func (e *Engine) Reset(ctx context.Context, ref string, confirmed bool) (*SyncSummary, error) {
	currentBranch, collection, err := e.currentCollection(ctx)
	if err != nil {
		return nil, err
	}
	release, err := e.locks.acquire(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer release()

	op := e.beginOperation(ctx, model.OpReset, currentBranch, collection)
	summary, err := e.resetLocked(ctx, collection, ref, confirmed)
	e.finishOperation(ctx, op, err)
	return summary, err
}

func (e *Engine) resetLocked(ctx context.Context, collection, ref string, confirmed bool) (*SyncSummary, error) {
	changes, err := e.detector.LocalChangesInVector(ctx, collection)
	if err != nil {
		return nil, err
	}
	if changes.Total() > 0 && !confirmed {
		confirmErr := errors.Newf(errors.CodeConfirmationRequired,
			"reset would discard %d local vector-side changes", changes.Total()).
			WithSuggestion("re-run with confirm set to true to discard them")
		for kind, count := range changes.Counts() {
			confirmErr.WithDetail(kind, fmt.Sprintf("%d", count))
		}
		return nil, confirmErr
	}

	if err := e.vcs.ResetHard(ctx, ref); err != nil {
		return nil, err
	}
	if err := e.store.DeleteSyncState(ctx, collection); err != nil {
		return nil, err
	}
	return e.FullResync(ctx, collection)
}

// InitFromVector initializes a fresh versioned store and seeds it from
// whatever the vector store already holds.
func (e *Engine) InitFromVector(ctx context.Context, message string) (*CommitResult, error) {
	initialized, err := e.vcs.Initialized(ctx)
	if err == nil && initialized {
		return nil, errors.Newf(errors.CodeAlreadyInitialized,
			"versioned store is already initialized")
	}

	if err := e.vcs.InitRepo(ctx); err != nil {
		return nil, err
	}
	if err := e.vcs.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	if e.cfg.Dolt.RemoteURL != "" {
		if err := e.vcs.AddRemote(ctx, e.cfg.Dolt.Remote, e.cfg.Dolt.RemoteURL); err != nil {
			return nil, err
		}
	}

	branch, collection, err := e.currentCollection(ctx)
	if err != nil {
		return nil, err
	}

	op := e.beginOperation(ctx, model.OpInit, branch, collection)
	result, err := e.initLocked(ctx, collection, message)
	if err == nil {
		result.Branch = branch
	}
	e.finishOperation(ctx, op, err)
	return result, err
}

func (e *Engine) initLocked(ctx context.Context, collection, message string) (*CommitResult, error) {
	var staged model.LocalChanges

	collections, err := e.vector.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range collections {
		records, err := e.vector.GetAll(ctx, name, false)
		if err != nil {
			return nil, err
		}
		for docID := range chunk.GroupBySource(records) {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(errors.CodeOperationFailed, err)
			}
			delta := model.DocumentDelta{DocID: docID, Collection: name, Kind: model.ChangeNew}
			if err := e.StageDocument(ctx, name, delta); err != nil {
				return nil, err
			}
			staged.New = append(staged.New, delta)
		}
	}

	if err := e.vcs.AddAll(ctx); err != nil {
		return nil, err
	}
	commitHash, err := e.vcs.Commit(ctx, message)
	if err != nil {
		if !errors.Is(err, errors.CodeNoChanges) {
			return nil, err
		}
		// An empty vector store still yields a valid initial repository.
		commitHash, err = e.vcs.HeadCommit(ctx)
		if err != nil {
			return nil, err
		}
	}

	if err := e.writeSyncState(ctx, collection, commitHash); err != nil {
		return nil, err
	}
	return &CommitResult{CommitHash: commitHash, Staged: staged}, nil
}

// Clone clones the versioned store from a remote and builds the vector
// collection for the checked-out branch.
func (e *Engine) Clone(ctx context.Context, url, branch string) (*CheckoutResult, error) {
	if err := e.vcs.CloneRepo(ctx, url); err != nil {
		return nil, err
	}
	if branch != "" {
		if err := e.vcs.Checkout(ctx, branch, false); err != nil {
			return nil, err
		}
	}

	currentBranch, collection, err := e.currentCollection(ctx)
	if err != nil {
		return nil, err
	}

	op := e.beginOperation(ctx, model.OpClone, currentBranch, collection)
	sync, err := e.FullResync(ctx, collection)
	e.finishOperation(ctx, op, err)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Branch: currentBranch, Collection: collection, Sync: sync}, nil
}

// Status reports both stores' view of the current branch.
func (e *Engine) Status(ctx context.Context) (*StatusReport, error) {
	branch, collection, err := e.currentCollection(ctx)
	if err != nil {
		return nil, err
	}
	head, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}
	vcsStatus, err := e.vcs.Status(ctx)
	if err != nil {
		return nil, err
	}
	changes, err := e.detector.LocalChangesInVector(ctx, collection)
	if err != nil {
		return nil, err
	}
	pending, err := e.detector.PendingVersionedToVector(ctx, collection)
	if err != nil {
		return nil, err
	}
	state, err := e.store.GetSyncState(ctx, collection)
	if err != nil {
		return nil, err
	}

	return &StatusReport{
		Branch:       branch,
		Head:         head,
		Collection:   collection,
		Clean:        vcsStatus.Clean() && changes.Total() == 0,
		StagedTables: vcsStatus.StagedTables,
		LocalChanges: changes,
		Pending:      pending,
		SyncState:    state,
	}, nil
}
