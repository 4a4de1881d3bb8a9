package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmrag/vmrag/internal/chroma"
	"github.com/vmrag/vmrag/internal/chunk"
	"github.com/vmrag/vmrag/internal/config"
	"github.com/vmrag/vmrag/internal/dolt"
	"github.com/vmrag/vmrag/internal/engine"
	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
)

// fakeVector is an in-memory Vector with per-collection chunk maps.
type fakeVector struct {
	collections map[string]model.Metadata
	chunks      map[string]map[string]model.ChunkRecord
	queries     []string
}

func newFakeVector() *fakeVector {
	return &fakeVector{
		collections: map[string]model.Metadata{},
		chunks:      map[string]map[string]model.ChunkRecord{},
	}
}

func (v *fakeVector) ModelName() string { return "nomic-embed-text" }

func (v *fakeVector) CreateCollection(ctx context.Context, name string, metadata model.Metadata) error {
	if _, ok := v.collections[name]; ok {
		return errors.Newf(errors.CodeCollectionExists, "collection %s exists", name)
	}
	v.collections[name] = metadata
	v.chunks[name] = map[string]model.ChunkRecord{}
	return nil
}

func (v *fakeVector) DeleteCollection(ctx context.Context, name string) error {
	if _, ok := v.collections[name]; !ok {
		return errors.Newf(errors.CodeCollectionNotFound, "collection %s not found", name)
	}
	delete(v.collections, name)
	delete(v.chunks, name)
	return nil
}

func (v *fakeVector) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	for name := range v.collections {
		names = append(names, name)
	}
	return names, nil
}

func (v *fakeVector) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, ok := v.collections[name]
	return ok, nil
}

func (v *fakeVector) GetCollectionMetadata(ctx context.Context, name string) (model.Metadata, error) {
	metadata, ok := v.collections[name]
	if !ok {
		return nil, errors.Newf(errors.CodeCollectionNotFound, "collection %s not found", name)
	}
	return metadata, nil
}

func (v *fakeVector) ModifyCollection(ctx context.Context, name, newName string, metadata model.Metadata) error {
	if _, ok := v.collections[name]; !ok {
		return errors.Newf(errors.CodeCollectionNotFound, "collection %s not found", name)
	}
	if metadata != nil {
		v.collections[name] = metadata
	}
	if newName != "" && newName != name {
		v.collections[newName] = v.collections[name]
		v.chunks[newName] = v.chunks[name]
		delete(v.collections, name)
		delete(v.chunks, name)
	}
	return nil
}

func (v *fakeVector) Count(ctx context.Context, name string) (int, error) {
	if _, ok := v.collections[name]; !ok {
		return 0, errors.Newf(errors.CodeCollectionNotFound, "collection %s not found", name)
	}
	return len(v.chunks[name]), nil
}

func (v *fakeVector) Add(ctx context.Context, collection string, ids, texts []string, embeddings [][]float32, metadatas []model.Metadata) error {
	if _, ok := v.collections[collection]; !ok {
		return errors.Newf(errors.CodeCollectionNotFound, "collection %s not found", collection)
	}
	for i, id := range ids {
		v.chunks[collection][id] = model.ChunkRecord{ID: id, Text: texts[i], Metadata: metadatas[i]}
	}
	return nil
}

func (v *fakeVector) Delete(ctx context.Context, collection string, ids []string) error {
	for _, id := range ids {
		delete(v.chunks[collection], id)
	}
	return nil
}

func (v *fakeVector) GetByIDs(ctx context.Context, collection string, ids []string) ([]model.ChunkRecord, error) {
	var out []model.ChunkRecord
	for _, id := range ids {
		if rec, ok := v.chunks[collection][id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (v *fakeVector) GetFiltered(ctx context.Context, collection string, where, whereDocument map[string]any, limit, offset int) ([]model.ChunkRecord, error) {
	var out []model.ChunkRecord
	for _, rec := range v.chunks[collection] {
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v *fakeVector) QueryByMetadata(ctx context.Context, collection string, where map[string]any) ([]model.ChunkRecord, error) {
	var out []model.ChunkRecord
	for _, rec := range v.chunks[collection] {
		matches := true
		for k, want := range where {
			if rec.Metadata[k] != want {
				matches = false
			}
		}
		if matches {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (v *fakeVector) QueryText(ctx context.Context, collection string, queryTexts []string, nResults int, where, whereDocument map[string]any) (*chroma.QueryResponse, error) {
	v.queries = append(v.queries, queryTexts...)
	resp := &chroma.QueryResponse{}
	for range queryTexts {
		var ids, docs []string
		var metas []map[string]any
		var dists []float32
		for _, rec := range v.chunks[collection] {
			ids = append(ids, rec.ID)
			docs = append(docs, rec.Text)
			metas = append(metas, rec.Metadata)
			dists = append(dists, 0.1)
			if len(ids) == nResults {
				break
			}
		}
		resp.IDs = append(resp.IDs, ids)
		resp.Documents = append(resp.Documents, docs)
		resp.Metadatas = append(resp.Metadatas, metas)
		resp.Distances = append(resp.Distances, dists)
	}
	return resp, nil
}

// fakeBookkeeping records dirty marks, sync states, and VCS links.
type fakeBookkeeping struct {
	dirty  map[string]bool
	states map[string]*model.SyncState
	links  []string
}

func newFakeBookkeeping() *fakeBookkeeping {
	return &fakeBookkeeping{dirty: map[string]bool{}, states: map[string]*model.SyncState{}}
}

func (b *fakeBookkeeping) MarkDirty(ctx context.Context, collection, docID string) error {
	b.dirty[docID] = true
	return nil
}

func (b *fakeBookkeeping) DeleteSyncState(ctx context.Context, collection string) error {
	delete(b.states, collection)
	return nil
}

func (b *fakeBookkeeping) GetSyncState(ctx context.Context, collection string) (*model.SyncState, error) {
	return b.states[collection], nil
}

func (b *fakeBookkeeping) InsertVCSLink(ctx context.Context, linkID, commitID, system, ref string) error {
	b.links = append(b.links, fmt.Sprintf("%s:%s:%s", commitID, system, ref))
	return nil
}

// fakeVCS serves a scripted commit log.
type fakeVCS struct {
	branch string
	log    []dolt.CommitInfo
	diffs  map[string][]model.DiffRow
}

func (f *fakeVCS) CurrentBranch(ctx context.Context) (string, error) { return f.branch, nil }

func (f *fakeVCS) HeadCommit(ctx context.Context) (string, error) {
	if len(f.log) == 0 {
		return "", nil
	}
	return f.log[0].Hash, nil
}

func (f *fakeVCS) ListBranches(ctx context.Context) ([]string, error) {
	return []string{f.branch}, nil
}

func (f *fakeVCS) Log(ctx context.Context, limit int) ([]dolt.CommitInfo, error) {
	if limit < len(f.log) {
		return f.log[:limit], nil
	}
	return f.log, nil
}

func (f *fakeVCS) Fetch(ctx context.Context, remote string) error { return nil }

func (f *fakeVCS) TableDiff(ctx context.Context, fromCommit, toCommit, table, collection string) ([]model.DiffRow, error) {
	return f.diffs[fromCommit+".."+toCommit], nil
}

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	calls   []string
	commits []string
}

func (f *fakeEngine) Status(ctx context.Context) (*engine.StatusReport, error) {
	f.calls = append(f.calls, "status")
	return &engine.StatusReport{Branch: "main", Head: "c1", Collection: "vmrag_main", Clean: true}, nil
}

func (f *fakeEngine) Commit(ctx context.Context, message string, autoStage bool) (*engine.CommitResult, error) {
	f.calls = append(f.calls, fmt.Sprintf("commit(%s,%v)", message, autoStage))
	f.commits = append(f.commits, message)
	return &engine.CommitResult{Branch: "main", CommitHash: "c2"}, nil
}

func (f *fakeEngine) Pull(ctx context.Context, remote, branch string, force bool) (*engine.PullSummary, error) {
	f.calls = append(f.calls, fmt.Sprintf("pull(%s,%s,%v)", remote, branch, force))
	return &engine.PullSummary{Branch: "main", Before: "c1", After: "c1"}, nil
}

func (f *fakeEngine) Push(ctx context.Context, remote, branch string) error {
	f.calls = append(f.calls, fmt.Sprintf("push(%s,%s)", remote, branch))
	return nil
}

func (f *fakeEngine) Checkout(ctx context.Context, branch string, create, force bool) (*engine.CheckoutResult, error) {
	f.calls = append(f.calls, fmt.Sprintf("checkout(%s,%v,%v)", branch, create, force))
	return &engine.CheckoutResult{Branch: branch, Collection: "vmrag_" + branch, Created: create}, nil
}

func (f *fakeEngine) Reset(ctx context.Context, ref string, confirmed bool) (*engine.SyncSummary, error) {
	f.calls = append(f.calls, fmt.Sprintf("reset(%s,%v)", ref, confirmed))
	if !confirmed {
		return nil, errors.Newf(errors.CodeConfirmationRequired, "reset discards local changes")
	}
	return &engine.SyncSummary{Collection: "vmrag_main", ToCommit: ref}, nil
}

func (f *fakeEngine) InitFromVector(ctx context.Context, message string) (*engine.CommitResult, error) {
	f.calls = append(f.calls, "init")
	return &engine.CommitResult{Branch: "main", CommitHash: "c1"}, nil
}

func (f *fakeEngine) Clone(ctx context.Context, url, branch string) (*engine.CheckoutResult, error) {
	f.calls = append(f.calls, fmt.Sprintf("clone(%s,%s)", url, branch))
	return &engine.CheckoutResult{Branch: "main", Collection: "vmrag_main"}, nil
}

func (f *fakeEngine) CollectionForBranch(branch string) string { return "vmrag_" + branch }

type testServer struct {
	*Server
	vector *fakeVector
	store  *fakeBookkeeping
	vcs    *fakeVCS
	eng    *fakeEngine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	chunker, err := chunk.NewChunker(500, 50)
	require.NoError(t, err)

	vector := newFakeVector()
	store := newFakeBookkeeping()
	vcs := &fakeVCS{branch: "main"}
	eng := &fakeEngine{}
	server := NewServer(eng, vector, store, vcs, chunk.NewConverter(chunker), config.NewConfig())
	return &testServer{Server: server, vector: vector, store: store, vcs: vcs, eng: eng}
}

// errorCode decodes the stable code out of a failed tool result.
func errorCode(t *testing.T, result *sdk.CallToolResult) string {
	t.Helper()
	require.True(t, result.IsError)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*sdk.TextContent)
	require.True(t, ok)

	var env struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &env))
	return env.Error
}

func TestAddDocuments_FlagsLocalChangeAndMarksDirty(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.vector.CreateCollection(ctx, "vmrag_main", nil))

	result, out, err := ts.addDocuments(ctx, nil, AddDocumentsInput{
		Collection: "vmrag_main",
		Documents: []DocumentInput{
			{ID: "D1", Content: "hello world", Title: "Greeting"},
			{Content: "anonymous"},
		},
	})
	require.NoError(t, err)
	require.Nil(t, result)
	assert.True(t, out.Success)
	require.Len(t, out.IDs, 2)
	assert.Equal(t, "D1", out.IDs[0])
	assert.NotEmpty(t, out.IDs[1], "missing id is generated")

	rec, ok := ts.vector.chunks["vmrag_main"]["D1_chunk_0"]
	require.True(t, ok)
	assert.Equal(t, "hello world", rec.Text)
	assert.Equal(t, true, rec.Metadata[model.MetaIsLocalChange])
	assert.Equal(t, "D1", rec.Metadata[model.MetaSourceID])

	assert.True(t, ts.store.dirty["D1"])
	assert.True(t, ts.store.dirty[out.IDs[1]])
}

func TestUpdateDocuments_ReplacesOldChunks(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.vector.CreateCollection(ctx, "vmrag_main", nil))

	// A long original spans two chunks; the short update must leave one.
	long := strings.Repeat("original text ", 60)
	_, _, err := ts.addDocuments(ctx, nil, AddDocumentsInput{
		Collection: "vmrag_main",
		Documents:  []DocumentInput{{ID: "D1", Content: long}},
	})
	require.NoError(t, err)
	require.Greater(t, len(ts.vector.chunks["vmrag_main"]), 1)

	result, out, err := ts.updateDocuments(ctx, nil, UpdateDocumentsInput{
		Collection: "vmrag_main",
		Documents:  []DocumentInput{{ID: "D1", Content: "short now"}},
	})
	require.NoError(t, err)
	require.Nil(t, result)
	assert.True(t, out.Success)

	require.Len(t, ts.vector.chunks["vmrag_main"], 1)
	assert.Equal(t, "short now", ts.vector.chunks["vmrag_main"]["D1_chunk_0"].Text)
}

func TestUpdateDocuments_RequiresID(t *testing.T) {
	ts := newTestServer(t)

	result, _, err := ts.updateDocuments(context.Background(), nil, UpdateDocumentsInput{
		Collection: "vmrag_main",
		Documents:  []DocumentInput{{Content: "no id"}},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestDeleteDocuments_RemovesChunksAndMarksDirty(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.vector.CreateCollection(ctx, "vmrag_main", nil))
	_, _, err := ts.addDocuments(ctx, nil, AddDocumentsInput{
		Collection: "vmrag_main",
		Documents:  []DocumentInput{{ID: "D1", Content: "doomed"}},
	})
	require.NoError(t, err)
	ts.store.dirty = map[string]bool{}

	result, out, err := ts.deleteDocuments(ctx, nil, DeleteDocumentsInput{
		Collection: "vmrag_main",
		IDs:        []string{"D1"},
	})
	require.NoError(t, err)
	require.Nil(t, result)
	assert.Equal(t, 1, out.DeletedChunks)
	assert.Empty(t, ts.vector.chunks["vmrag_main"])
	assert.True(t, ts.store.dirty["D1"], "deletion must reach the next commit")
}

func TestDeleteCollection_RequiresConfirmation(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.vector.CreateCollection(ctx, "vmrag_main", nil))

	result, _, err := ts.deleteCollection(ctx, nil, DeleteCollectionInput{Collection: "vmrag_main"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)

	assert.Equal(t, "CONFIRMATION_REQUIRED", errorCode(t, result))
	_, ok := ts.vector.collections["vmrag_main"]
	assert.True(t, ok, "collection must survive an unconfirmed delete")

	result, out, err := ts.deleteCollection(ctx, nil, DeleteCollectionInput{
		Collection: "vmrag_main", Confirm: true,
	})
	require.NoError(t, err)
	require.Nil(t, result)
	assert.True(t, out.Success)
	_, ok = ts.vector.collections["vmrag_main"]
	assert.False(t, ok)
}

func TestCreateCollection_SetsDefaults(t *testing.T) {
	ts := newTestServer(t)

	result, out, err := ts.createCollection(context.Background(), nil, CreateCollectionInput{
		Collection: "vmrag_main",
		Metadata:   map[string]any{"purpose": "docs"},
	})
	require.NoError(t, err)
	require.Nil(t, result)
	assert.True(t, out.Success)

	metadata := ts.vector.collections["vmrag_main"]
	assert.Equal(t, "cosine", metadata["hnsw:space"])
	assert.Equal(t, "nomic-embed-text", metadata["embedding_model"])
	assert.Equal(t, "docs", metadata["purpose"])
}

func TestQueryDocuments_RejectsBadFilter(t *testing.T) {
	ts := newTestServer(t)

	result, _, err := ts.queryDocuments(context.Background(), nil, QueryDocumentsInput{
		Collection: "vmrag_main",
		QueryTexts: []string{"anything"},
		Filter:     map[string]any{"field": map[string]any{"$regex": "nope"}},
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestQueryDocuments_MatchShape(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.vector.CreateCollection(ctx, "vmrag_main", nil))
	_, _, err := ts.addDocuments(ctx, nil, AddDocumentsInput{
		Collection: "vmrag_main",
		Documents:  []DocumentInput{{ID: "D1", Content: "searchable text"}},
	})
	require.NoError(t, err)

	result, out, err := ts.queryDocuments(ctx, nil, QueryDocumentsInput{
		Collection: "vmrag_main",
		QueryTexts: []string{"search"},
	})
	require.NoError(t, err)
	require.Nil(t, result)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, "search", out.Matches[0].Query)
	require.NotEmpty(t, out.Matches[0].Results)
	assert.Equal(t, "searchable text", out.Matches[0].Results[0].Text)
}

func TestGetCollectionInfo_IncludesSyncState(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.vector.CreateCollection(ctx, "vmrag_main", model.Metadata{"embedding_model": "nomic-embed-text"}))
	ts.store.states["vmrag_main"] = &model.SyncState{
		Collection: "vmrag_main", LastSyncCommit: "c7", Status: model.SyncStatusSynced,
	}

	result, out, err := ts.getCollectionInfo(ctx, nil, CollectionInput{Collection: "vmrag_main"})
	require.NoError(t, err)
	require.Nil(t, result)
	require.NotNil(t, out.SyncState)
	assert.Equal(t, "c7", out.SyncState.LastSyncCommit)
}

func TestCommit_DefaultsToConfiguredAutoStage(t *testing.T) {
	ts := newTestServer(t)

	_, out, err := ts.commit(context.Background(), nil, CommitInput{Message: "add docs"})
	require.NoError(t, err)
	assert.True(t, out.Success)
	require.Len(t, ts.eng.calls, 1)
	assert.Equal(t, "commit(add docs,true)", ts.eng.calls[0])

	off := false
	_, _, err = ts.commit(context.Background(), nil, CommitInput{Message: "manual", AutoStage: &off})
	require.NoError(t, err)
	assert.Equal(t, "commit(manual,false)", ts.eng.calls[1])
}

func TestPull_DefaultsRemote(t *testing.T) {
	ts := newTestServer(t)

	_, _, err := ts.pull(context.Background(), nil, PullInput{})
	require.NoError(t, err)
	require.Len(t, ts.eng.calls, 1)
	assert.Equal(t, "pull(origin,,false)", ts.eng.calls[0])
}

func TestShow_ResolvesPrefixAndSummarizesDiff(t *testing.T) {
	ts := newTestServer(t)
	ts.vcs.log = []dolt.CommitInfo{
		{Hash: "abc123def", Message: "update guide"},
		{Hash: "fff000aaa", Message: "initial"},
	}
	ts.vcs.diffs = map[string][]model.DiffRow{
		"abc123def~1..abc123def": {
			{Type: model.DiffModified, DocID: "D1", Title: "Guide"},
		},
	}

	result, out, err := ts.show(context.Background(), nil, ShowInput{Commit: "abc1"})
	require.NoError(t, err)
	require.Nil(t, result)
	assert.Equal(t, "abc123def", out.Commit.Hash)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, model.DiffModified, out.Changes[0].Type)
	assert.Equal(t, "D1", out.Changes[0].DocID)
}

func TestShow_UnknownCommit(t *testing.T) {
	ts := newTestServer(t)
	ts.vcs.log = []dolt.CommitInfo{{Hash: "abc123def"}}

	result, _, err := ts.show(context.Background(), nil, ShowInput{Commit: "zzz"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "COMMIT_NOT_FOUND", errorCode(t, result))
}

func TestFind_MatchesMessageAndHash(t *testing.T) {
	ts := newTestServer(t)
	ts.vcs.log = []dolt.CommitInfo{
		{Hash: "abc123", Message: "Fix onboarding guide"},
		{Hash: "def456", Message: "unrelated"},
		{Hash: "aaa789", Message: "more onboarding notes"},
	}

	_, out, err := ts.find(context.Background(), nil, FindInput{Query: "onboarding"})
	require.NoError(t, err)
	require.Len(t, out.Commits, 2)

	_, out, err = ts.find(context.Background(), nil, FindInput{Query: "def4"})
	require.NoError(t, err)
	require.Len(t, out.Commits, 1)
	assert.Equal(t, "def456", out.Commits[0].Hash)
}

func TestLinkExternalVCS_RecordsLink(t *testing.T) {
	ts := newTestServer(t)

	result, out, err := ts.linkExternalVCS(context.Background(), nil, LinkExternalVCSInput{
		Commit: "c9", System: "git", Ref: "1a2b3c",
	})
	require.NoError(t, err)
	require.Nil(t, result)
	assert.NotEmpty(t, out.LinkID)
	require.Len(t, ts.store.links, 1)
	assert.Equal(t, "c9:git:1a2b3c", ts.store.links[0])
}

func TestReset_PropagatesConfirmationError(t *testing.T) {
	ts := newTestServer(t)

	result, _, err := ts.reset(context.Background(), nil, ResetInput{Ref: "HEAD"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "CONFIRMATION_REQUIRED", errorCode(t, result))
}

func TestBranches_ReportsCollection(t *testing.T) {
	ts := newTestServer(t)

	_, out, err := ts.branches(context.Background(), nil, BranchesInput{})
	require.NoError(t, err)
	assert.Equal(t, "main", out.Current)
	assert.Equal(t, "vmrag_main", out.Collection)
}
