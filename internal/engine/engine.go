// Package engine is the heart of vmrag: it reconciles the versioned document
// store and the vector store around version-control operations. Four
// primitive flows (apply a diff row, stage a vector-side document, full
// resync, commit-range sync) compose into the top-level commit, pull,
// checkout, merge, reset, init, and clone operations.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vmrag/vmrag/internal/chunk"
	"github.com/vmrag/vmrag/internal/config"
	"github.com/vmrag/vmrag/internal/dolt"
	"github.com/vmrag/vmrag/internal/model"
)

// VersionedStore is the SQL-backed persistence surface the engine writes.
type VersionedStore interface {
	UpsertDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, collection, docID string) (*model.Document, error)
	ListDocuments(ctx context.Context, collection string) ([]*model.Document, error)
	DeleteDocument(ctx context.Context, collection, docID string) error
	CollectionDocCount(ctx context.Context, collection string) (int, error)

	UpsertSyncLog(ctx context.Context, entry *model.SyncLogEntry) error
	GetSyncLog(ctx context.Context, collection, docID string) (*model.SyncLogEntry, error)
	DeleteSyncLog(ctx context.Context, collection, docID string) error

	GetSyncState(ctx context.Context, collection string) (*model.SyncState, error)
	UpsertSyncState(ctx context.Context, state *model.SyncState) error
	DeleteSyncState(ctx context.Context, collection string) error
	MarkSyncError(ctx context.Context, collection, message string) error

	InsertOperation(ctx context.Context, op *model.OperationLog) error
	CompleteOperation(ctx context.Context, op *model.OperationLog) error
	FailOperation(ctx context.Context, operationID, message string) error

	ClearDirty(ctx context.Context, collection, docID string) error
	ClearAllDirty(ctx context.Context, collection string) error
}

// VersionControl is the branch/commit surface of the versioned store.
type VersionControl interface {
	CurrentBranch(ctx context.Context) (string, error)
	HeadCommit(ctx context.Context) (string, error)
	Status(ctx context.Context) (*dolt.Status, error)
	ListBranches(ctx context.Context) ([]string, error)
	Checkout(ctx context.Context, branch string, create bool) error
	AddAll(ctx context.Context) error
	Commit(ctx context.Context, message string) (string, error)
	Push(ctx context.Context, remote, branch string) error
	Pull(ctx context.Context, remote, branch string) (*dolt.PullResult, error)
	Fetch(ctx context.Context, remote string) error
	Merge(ctx context.Context, sourceBranch string) (*dolt.MergeResult, error)
	HasConflicts(ctx context.Context) (bool, error)
	ConflictTables(ctx context.Context) ([]string, error)
	ResolveConflicts(ctx context.Context, table, strategy string) error
	ResetHard(ctx context.Context, ref string) error
	InitRepo(ctx context.Context) error
	CloneRepo(ctx context.Context, url string) error
	AddRemote(ctx context.Context, name, url string) error
	EnsureSchema(ctx context.Context) error
	Initialized(ctx context.Context) (bool, error)
}

// VectorStore is the chunk-level surface of the vector store.
type VectorStore interface {
	ModelName() string
	CreateCollection(ctx context.Context, name string, metadata model.Metadata) error
	DeleteCollection(ctx context.Context, name string) error
	ListCollections(ctx context.Context) ([]string, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	Count(ctx context.Context, name string) (int, error)
	Add(ctx context.Context, collection string, ids, texts []string, embeddings [][]float32, metadatas []model.Metadata) error
	UpdateMetadata(ctx context.Context, collection string, ids []string, metadatas []model.Metadata) error
	Delete(ctx context.Context, collection string, ids []string) error
	GetAll(ctx context.Context, collection string, includeEmbeddings bool) ([]model.ChunkRecord, error)
	QueryByMetadata(ctx context.Context, collection string, where map[string]any) ([]model.ChunkRecord, error)
	CopyCollection(ctx context.Context, source, target string) error
}

// ChangeDetector computes pending deltas between the stores.
type ChangeDetector interface {
	PendingVersionedToVector(ctx context.Context, collection string) ([]model.DocumentDelta, error)
	DeletedInVersioned(ctx context.Context, collection string) ([]model.DocumentDelta, error)
	LocalChangesInVector(ctx context.Context, collection string) (model.LocalChanges, error)
	CommitRangeDiff(ctx context.Context, fromCommit, toCommit, collection string) ([]model.DiffRow, error)
}

// Engine coordinates the two stores. All composed operations serialize per
// collection through the lock manager; flows assume the caller holds the
// lock.
type Engine struct {
	cfg       *config.Config
	store     VersionedStore
	vcs       VersionControl
	vector    VectorStore
	detector  ChangeDetector
	converter *chunk.Converter
	locks     *lockManager
	log       *slog.Logger
}

// New creates an engine. lockDir is where cross-process lock files live,
// normally the versioned store's working directory.
func New(cfg *config.Config, store VersionedStore, vcs VersionControl, vector VectorStore, detector ChangeDetector, converter *chunk.Converter, lockDir string) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		vcs:       vcs,
		vector:    vector,
		detector:  detector,
		converter: converter,
		locks:     newLockManager(lockDir),
		log:       slog.Default().With("component", "engine"),
	}
}

// Detector exposes the detector for read-only callers such as the façade.
func (e *Engine) Detector() ChangeDetector { return e.detector }

// Vector exposes the vector store for the façade's document tools.
func (e *Engine) Vector() VectorStore { return e.vector }

// Store exposes the versioned store for the façade's bookkeeping writes.
func (e *Engine) Store() VersionedStore { return e.store }

// currentCollection resolves the branch the versioned store is on and the
// vector collection that mirrors it.
func (e *Engine) currentCollection(ctx context.Context) (branch, collection string, err error) {
	branch, err = e.vcs.CurrentBranch(ctx)
	if err != nil {
		return "", "", err
	}
	return branch, e.CollectionForBranch(branch), nil
}

// beginOperation opens a sync_operations row for a composed operation.
// The row is best-effort before the repository exists.
func (e *Engine) beginOperation(ctx context.Context, opType model.OperationType, branch string, collections ...string) *model.OperationLog {
	op := &model.OperationLog{
		ID:          uuid.NewString(),
		Type:        opType,
		Branch:      branch,
		Collections: collections,
		Status:      model.OpStatusStarted,
		StartedAt:   time.Now().UTC(),
	}
	if head, err := e.vcs.HeadCommit(ctx); err == nil {
		op.CommitBefore = head
	}
	if err := e.store.InsertOperation(ctx, op); err != nil {
		e.log.Warn("operation_log_insert_failed", "operation", string(opType), "error", err)
	}
	return op
}

// finishOperation closes the operation row, recording failure details when
// the operation errored.
func (e *Engine) finishOperation(ctx context.Context, op *model.OperationLog, opErr error) {
	op.FinishedAt = time.Now().UTC()
	if opErr != nil {
		if err := e.store.FailOperation(ctx, op.ID, opErr.Error()); err != nil {
			e.log.Warn("operation_log_fail_failed", "operation_id", op.ID, "error", err)
		}
		return
	}
	if head, err := e.vcs.HeadCommit(ctx); err == nil {
		op.CommitAfter = head
	}
	if err := e.store.CompleteOperation(ctx, op); err != nil {
		e.log.Warn("operation_log_complete_failed", "operation_id", op.ID, "error", err)
	}
}
