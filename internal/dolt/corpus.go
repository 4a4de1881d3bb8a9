package dolt

import (
	"context"

	"github.com/vmrag/vmrag/internal/model"
)

// CorpusView presents the store to branch-scoped readers such as the delta
// detector. Callers name the vector collection they are reconciling, but on
// the versioned side every branch reads the primary corpus: the versioning
// engine already isolates branches, so the collection argument is ignored.
type CorpusView struct {
	store *Store
}

// NewCorpusView creates a view over the store's primary corpus.
func NewCorpusView(store *Store) *CorpusView {
	return &CorpusView{store: store}
}

func (v *CorpusView) ListDocuments(ctx context.Context, _ string) ([]*model.Document, error) {
	return v.store.ListDocuments(ctx, model.PrimaryCorpus)
}

func (v *CorpusView) ListDocumentHashes(ctx context.Context, _ string) (map[string]string, error) {
	return v.store.ListDocumentHashes(ctx, model.PrimaryCorpus)
}

func (v *CorpusView) ListSyncLog(ctx context.Context, _ string) ([]*model.SyncLogEntry, error) {
	return v.store.ListSyncLog(ctx, model.PrimaryCorpus)
}

func (v *CorpusView) ListDirty(ctx context.Context, _ string) ([]string, error) {
	return v.store.ListDirty(ctx, model.PrimaryCorpus)
}

// TableDiff scopes commit-range diffs to the primary corpus.
func (v *CorpusView) TableDiff(ctx context.Context, fromCommit, toCommit, table, _ string) ([]model.DiffRow, error) {
	return v.store.Adapter().TableDiff(ctx, fromCommit, toCommit, table, model.PrimaryCorpus)
}
