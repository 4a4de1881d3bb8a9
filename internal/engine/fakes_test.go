package engine

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vmrag/vmrag/internal/chunk"
	"github.com/vmrag/vmrag/internal/config"
	"github.com/vmrag/vmrag/internal/delta"
	"github.com/vmrag/vmrag/internal/dolt"
	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
)

// fakeStore is an in-memory VersionedStore. The corpus argument is ignored:
// the engine always scopes to the primary corpus.
type fakeStore struct {
	docs   map[string]*model.Document
	logs   map[string]*model.SyncLogEntry
	states map[string]*model.SyncState
	dirty  map[string]bool
	ops    []*model.OperationLog
	failed map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:   map[string]*model.Document{},
		logs:   map[string]*model.SyncLogEntry{},
		states: map[string]*model.SyncState{},
		dirty:  map[string]bool{},
		failed: map[string]string{},
	}
}

func (s *fakeStore) UpsertDocument(ctx context.Context, doc *model.Document) error {
	copied := *doc
	s.docs[doc.DocID] = &copied
	return nil
}

func (s *fakeStore) GetDocument(ctx context.Context, _, docID string) (*model.Document, error) {
	return s.docs[docID], nil
}

func (s *fakeStore) ListDocuments(ctx context.Context, _ string) ([]*model.Document, error) {
	out := make([]*model.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

func (s *fakeStore) ListDocumentHashes(ctx context.Context, _ string) (map[string]string, error) {
	hashes := map[string]string{}
	for id, doc := range s.docs {
		hashes[id] = doc.ContentHash
	}
	return hashes, nil
}

func (s *fakeStore) DeleteDocument(ctx context.Context, _, docID string) error {
	delete(s.docs, docID)
	return nil
}

func (s *fakeStore) CollectionDocCount(ctx context.Context, _ string) (int, error) {
	return len(s.docs), nil
}

func (s *fakeStore) UpsertSyncLog(ctx context.Context, entry *model.SyncLogEntry) error {
	copied := *entry
	s.logs[entry.DocID] = &copied
	return nil
}

func (s *fakeStore) GetSyncLog(ctx context.Context, _, docID string) (*model.SyncLogEntry, error) {
	return s.logs[docID], nil
}

func (s *fakeStore) ListSyncLog(ctx context.Context, _ string) ([]*model.SyncLogEntry, error) {
	out := make([]*model.SyncLogEntry, 0, len(s.logs))
	for _, entry := range s.logs {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

func (s *fakeStore) DeleteSyncLog(ctx context.Context, _, docID string) error {
	delete(s.logs, docID)
	return nil
}

func (s *fakeStore) GetSyncState(ctx context.Context, collection string) (*model.SyncState, error) {
	return s.states[collection], nil
}

func (s *fakeStore) UpsertSyncState(ctx context.Context, state *model.SyncState) error {
	copied := *state
	s.states[state.Collection] = &copied
	return nil
}

func (s *fakeStore) DeleteSyncState(ctx context.Context, collection string) error {
	delete(s.states, collection)
	return nil
}

func (s *fakeStore) MarkSyncError(ctx context.Context, collection, message string) error {
	if state, ok := s.states[collection]; ok {
		state.Status = model.SyncStatusError
		state.ErrorMessage = message
	}
	return nil
}

func (s *fakeStore) InsertOperation(ctx context.Context, op *model.OperationLog) error {
	copied := *op
	s.ops = append(s.ops, &copied)
	return nil
}

func (s *fakeStore) CompleteOperation(ctx context.Context, op *model.OperationLog) error {
	for _, existing := range s.ops {
		if existing.ID == op.ID {
			*existing = *op
			existing.Status = model.OpStatusCompleted
		}
	}
	return nil
}

func (s *fakeStore) FailOperation(ctx context.Context, operationID, message string) error {
	s.failed[operationID] = message
	for _, existing := range s.ops {
		if existing.ID == operationID {
			existing.Status = model.OpStatusFailed
			existing.Error = message
		}
	}
	return nil
}

func (s *fakeStore) ListDirty(ctx context.Context, _ string) ([]string, error) {
	out := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *fakeStore) ClearDirty(ctx context.Context, _, docID string) error {
	delete(s.dirty, docID)
	return nil
}

func (s *fakeStore) ClearAllDirty(ctx context.Context, _ string) error {
	s.dirty = map[string]bool{}
	return nil
}

func (s *fakeStore) lastOp() *model.OperationLog {
	if len(s.ops) == 0 {
		return nil
	}
	return s.ops[len(s.ops)-1]
}

// fakeVector is an in-memory VectorStore that fabricates embeddings and
// counts how many chunks were embedded.
type fakeVector struct {
	modelTag    string
	collections map[string]map[string]model.ChunkRecord
	order       map[string][]string
	metadata    map[string]model.Metadata
	embedded    int
}

func newFakeVector(modelTag string) *fakeVector {
	return &fakeVector{
		modelTag:    modelTag,
		collections: map[string]map[string]model.ChunkRecord{},
		order:       map[string][]string{},
		metadata:    map[string]model.Metadata{},
	}
}

func (v *fakeVector) ModelName() string { return v.modelTag }

func (v *fakeVector) CreateCollection(ctx context.Context, name string, metadata model.Metadata) error {
	if _, exists := v.collections[name]; exists {
		return errors.Newf(errors.CodeCollectionExists, "collection exists: %s", name)
	}
	v.collections[name] = map[string]model.ChunkRecord{}
	v.metadata[name] = metadata
	return nil
}

func (v *fakeVector) DeleteCollection(ctx context.Context, name string) error {
	delete(v.collections, name)
	delete(v.order, name)
	delete(v.metadata, name)
	return nil
}

func (v *fakeVector) ListCollections(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(v.collections))
	for name := range v.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (v *fakeVector) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, ok := v.collections[name]
	return ok, nil
}

func (v *fakeVector) Count(ctx context.Context, name string) (int, error) {
	return len(v.collections[name]), nil
}

func (v *fakeVector) Add(ctx context.Context, collection string, ids, texts []string, embeddings [][]float32, metadatas []model.Metadata) error {
	chunks, ok := v.collections[collection]
	if !ok {
		return errors.Newf(errors.CodeCollectionNotFound, "no such collection: %s", collection)
	}
	// Adds reject ids that already exist, matching the store's contract.
	for _, id := range ids {
		if _, dup := chunks[id]; dup {
			return errors.Newf(errors.CodeDuplicateID, "duplicate existing embedding ID: %s", id)
		}
	}
	for i, id := range ids {
		emb := []float32{1, 0}
		if embeddings != nil {
			emb = embeddings[i]
		} else {
			v.embedded++
		}
		chunks[id] = model.ChunkRecord{ID: id, Text: texts[i], Metadata: metadatas[i].Clone(), Embedding: emb}
		v.order[collection] = append(v.order[collection], id)
	}
	return nil
}

func (v *fakeVector) UpdateMetadata(ctx context.Context, collection string, ids []string, metadatas []model.Metadata) error {
	chunks := v.collections[collection]
	for i, id := range ids {
		rec, ok := chunks[id]
		if !ok {
			continue
		}
		for key, value := range metadatas[i] {
			rec.Metadata[key] = value
		}
		chunks[id] = rec
	}
	return nil
}

func (v *fakeVector) Delete(ctx context.Context, collection string, ids []string) error {
	chunks := v.collections[collection]
	for _, id := range ids {
		delete(chunks, id)
	}
	kept := v.order[collection][:0]
	for _, id := range v.order[collection] {
		if _, alive := chunks[id]; alive {
			kept = append(kept, id)
		}
	}
	v.order[collection] = kept
	return nil
}

func (v *fakeVector) GetAll(ctx context.Context, collection string, includeEmbeddings bool) ([]model.ChunkRecord, error) {
	chunks, ok := v.collections[collection]
	if !ok {
		return nil, errors.Newf(errors.CodeCollectionNotFound, "no such collection: %s", collection)
	}
	var out []model.ChunkRecord
	for _, id := range v.order[collection] {
		if rec, alive := chunks[id]; alive {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (v *fakeVector) QueryByMetadata(ctx context.Context, collection string, where map[string]any) ([]model.ChunkRecord, error) {
	all, err := v.GetAll(ctx, collection, false)
	if err != nil {
		return nil, err
	}
	var out []model.ChunkRecord
	for _, rec := range all {
		match := true
		for key, want := range where {
			if rec.Metadata[key] != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (v *fakeVector) CopyCollection(ctx context.Context, source, target string) error {
	records, err := v.GetAll(ctx, source, true)
	if err != nil {
		return err
	}
	if err := v.CreateCollection(ctx, target, v.metadata[source].Clone()); err != nil {
		return err
	}
	for _, rec := range records {
		v.collections[target][rec.ID] = model.ChunkRecord{
			ID: rec.ID, Text: rec.Text, Metadata: rec.Metadata.Clone(), Embedding: rec.Embedding,
		}
		v.order[target] = append(v.order[target], rec.ID)
	}
	return nil
}

func (v *fakeVector) ids(collection string) []string {
	var out []string
	for _, id := range v.order[collection] {
		if _, alive := v.collections[collection][id]; alive {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// fakeVCS is a scripted VersionControl with per-branch heads.
type fakeVCS struct {
	branch      string
	heads       map[string]string
	branches    []string
	commitSeq   int
	noChanges   bool
	initialized bool

	pullNewHead   string
	pullConflicts bool
	pullFF        bool

	mergeNewHead   string
	mergeConflicts bool
	conflictTables []string
	resolved       map[string]string

	diffs map[string][]model.DiffRow

	resetRef    string
	resetCalled bool
	schemaDone  bool
	cloned      string
	pushed      []string
	remotes     map[string]string
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{
		branch:      "main",
		heads:       map[string]string{"main": "c1"},
		branches:    []string{"main"},
		commitSeq:   1,
		initialized: true,
		resolved:    map[string]string{},
		diffs:       map[string][]model.DiffRow{},
		remotes:     map[string]string{},
	}
}

func (f *fakeVCS) setDiff(from, to string, rows ...model.DiffRow) {
	f.diffs[from+".."+to] = rows
}

func (f *fakeVCS) CurrentBranch(ctx context.Context) (string, error) { return f.branch, nil }

func (f *fakeVCS) HeadCommit(ctx context.Context) (string, error) { return f.heads[f.branch], nil }

func (f *fakeVCS) Status(ctx context.Context) (*dolt.Status, error) {
	return &dolt.Status{Branch: f.branch}, nil
}

func (f *fakeVCS) ListBranches(ctx context.Context) ([]string, error) { return f.branches, nil }

func (f *fakeVCS) Checkout(ctx context.Context, branch string, create bool) error {
	if create {
		f.branches = append(f.branches, branch)
		f.heads[branch] = f.heads[f.branch]
	} else {
		found := false
		for _, b := range f.branches {
			if b == branch {
				found = true
			}
		}
		if !found {
			return errors.Newf(errors.CodeBranchNotFound, "no branch named %s", branch)
		}
	}
	f.branch = branch
	return nil
}

func (f *fakeVCS) AddAll(ctx context.Context) error { return nil }

func (f *fakeVCS) Commit(ctx context.Context, message string) (string, error) {
	if f.noChanges {
		return "", errors.Newf(errors.CodeNoChanges, "nothing to commit")
	}
	f.commitSeq++
	head := fmt.Sprintf("c%d", f.commitSeq)
	f.heads[f.branch] = head
	return head, nil
}

func (f *fakeVCS) Push(ctx context.Context, remote, branch string) error {
	f.pushed = append(f.pushed, remote+"/"+branch)
	return nil
}

func (f *fakeVCS) Pull(ctx context.Context, remote, branch string) (*dolt.PullResult, error) {
	if f.pullConflicts {
		return &dolt.PullResult{HasConflicts: true}, nil
	}
	if f.pullNewHead != "" {
		f.heads[f.branch] = f.pullNewHead
	}
	return &dolt.PullResult{FastForward: f.pullFF}, nil
}

func (f *fakeVCS) Fetch(ctx context.Context, remote string) error { return nil }

func (f *fakeVCS) Merge(ctx context.Context, sourceBranch string) (*dolt.MergeResult, error) {
	if f.mergeConflicts {
		return &dolt.MergeResult{HasConflicts: true}, nil
	}
	if f.mergeNewHead != "" {
		f.heads[f.branch] = f.mergeNewHead
	}
	return &dolt.MergeResult{MergeCommit: f.heads[f.branch]}, nil
}

func (f *fakeVCS) HasConflicts(ctx context.Context) (bool, error) {
	return len(f.conflictTables) > 0, nil
}

func (f *fakeVCS) ConflictTables(ctx context.Context) ([]string, error) {
	return f.conflictTables, nil
}

func (f *fakeVCS) ResolveConflicts(ctx context.Context, table, strategy string) error {
	f.resolved[table] = strategy
	remaining := f.conflictTables[:0]
	for _, t := range f.conflictTables {
		if t != table {
			remaining = append(remaining, t)
		}
	}
	f.conflictTables = remaining
	return nil
}

func (f *fakeVCS) ResetHard(ctx context.Context, ref string) error {
	f.resetCalled = true
	f.resetRef = ref
	return nil
}

func (f *fakeVCS) InitRepo(ctx context.Context) error {
	f.initialized = true
	f.heads[f.branch] = "c1"
	return nil
}

func (f *fakeVCS) CloneRepo(ctx context.Context, url string) error {
	f.cloned = url
	f.initialized = true
	return nil
}

func (f *fakeVCS) AddRemote(ctx context.Context, name, url string) error {
	f.remotes[name] = url
	return nil
}

func (f *fakeVCS) EnsureSchema(ctx context.Context) error {
	f.schemaDone = true
	return nil
}

func (f *fakeVCS) Initialized(ctx context.Context) (bool, error) { return f.initialized, nil }

func (f *fakeVCS) TableDiff(ctx context.Context, fromCommit, toCommit, table, _ string) ([]model.DiffRow, error) {
	return f.diffs[fromCommit+".."+toCommit], nil
}

// newTestEngine wires an engine over the in-memory fakes and a real
// detector.
func newTestEngine(t *testing.T) (*Engine, *fakeStore, *fakeVCS, *fakeVector) {
	t.Helper()
	cfg := config.NewConfig()
	store := newFakeStore()
	vcs := newFakeVCS()
	vector := newFakeVector("test-model")

	chunker, err := chunk.NewChunker(512, 50)
	require.NoError(t, err)
	converter := chunk.NewConverter(chunker)
	detector := delta.NewDetector(store, vector, vcs, converter)

	e := New(cfg, store, vcs, vector, detector, converter, t.TempDir())
	return e, store, vcs, vector
}
