// Package model defines the logical entities shared by the adapters, the
// delta detector, and the sync engine.
package model

import (
	"time"
)

// Metadata is an arbitrary JSON object preserved verbatim on documents and
// chunks. System fields are injected and stripped by the chunk converter,
// never by callers.
type Metadata map[string]any

// Clone returns a shallow copy so converters can strip system fields without
// mutating caller-owned maps.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// System metadata field names carried on every chunk.
const (
	MetaSourceID      = "source_id"
	MetaCollection    = "collection_name"
	MetaContentHash   = "content_hash"
	MetaCommitID      = "commit_id"
	MetaChunkIndex    = "chunk_index"
	MetaTotalChunks   = "total_chunks"
	MetaTitle         = "title"
	MetaDocType       = "doc_type"
	MetaIsLocalChange = "is_local_change"
)

// PrimaryCorpus is the logical collection scope for document rows in the
// versioned store. Branch isolation comes from the versioning engine itself,
// so a single corpus per repository suffices; the collection_name column
// stays branch-invariant so merges conflict on content, not on naming.
const PrimaryCorpus = "primary"

// Document is the logical versioned entity, keyed by (DocID, Collection).
type Document struct {
	DocID       string   `json:"doc_id"`
	Collection  string   `json:"collection_name"`
	Content     string   `json:"content"`
	ContentHash string   `json:"content_hash"`
	Title       string   `json:"title,omitempty"`
	DocType     string   `json:"doc_type,omitempty"`
	Metadata    Metadata `json:"metadata"`

	// Derived, not authoritative.
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ChunkRecord is one (id, text, metadata, embedding) tuple in the vector store.
type ChunkRecord struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// CollectionInfo is a collection registry entry.
type CollectionInfo struct {
	Name           string `json:"collection_name"`
	DisplayName    string `json:"display_name,omitempty"`
	Description    string `json:"description,omitempty"`
	EmbeddingModel string `json:"embedding_model"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
	DocumentCount  int    `json:"document_count"`
	ChunkCount     int    `json:"chunk_count"`
}

// SyncStatus is the per-collection sync lifecycle state.
type SyncStatus string

const (
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusError      SyncStatus = "error"
)

// SyncState ties a vector-store collection to a versioned-store commit.
// Invariant: when Status is synced, the collection equals the deterministic
// projection of the versioned store at LastSyncCommit under EmbeddingModel.
type SyncState struct {
	Collection     string     `json:"collection_name"`
	LastSyncCommit string     `json:"last_sync_commit"`
	LastSyncAt     time.Time  `json:"last_sync_at"`
	DocumentCount  int        `json:"document_count"`
	ChunkCount     int        `json:"chunk_count"`
	EmbeddingModel string     `json:"embedding_model"`
	Status         SyncStatus `json:"sync_status"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// SyncDirection records which way a document was last migrated.
type SyncDirection string

const (
	DirectionVersionedToVector SyncDirection = "versioned_to_vector"
	DirectionVectorToVersioned SyncDirection = "vector_to_versioned"
)

// SyncAction records what the last migration did.
type SyncAction string

const (
	ActionAdded    SyncAction = "added"
	ActionModified SyncAction = "modified"
	ActionDeleted  SyncAction = "deleted"
)

// SyncLogEntry is the authoritative mapping between a logical document and
// the chunk ids it occupies in the vector store. Unique on (DocID, Collection).
type SyncLogEntry struct {
	DocID       string        `json:"doc_id"`
	Collection  string        `json:"collection_name"`
	ContentHash string        `json:"content_hash"`
	ChunkIDs    []string      `json:"chunk_ids"`
	ChunkCount  int           `json:"chunk_count"`
	SyncedAt    time.Time     `json:"synced_at"`
	Direction   SyncDirection `json:"sync_direction"`
	Action      SyncAction    `json:"sync_action"`
}

// DiffType classifies one row of a commit-range diff.
type DiffType string

const (
	DiffAdded    DiffType = "added"
	DiffModified DiffType = "modified"
	DiffRemoved  DiffType = "removed"
)

// DiffRow is one document-level change between two commits.
type DiffRow struct {
	Type      DiffType `json:"diff_type"`
	DocID     string   `json:"source_id"`
	FromHash  string   `json:"from_hash,omitempty"`
	ToHash    string   `json:"to_hash,omitempty"`
	ToContent string   `json:"to_content,omitempty"`
	Title     string   `json:"title,omitempty"`
	DocType   string   `json:"doc_type,omitempty"`
	Metadata  Metadata `json:"metadata,omitempty"`
}

// ChangeKind classifies a pending document-level change.
type ChangeKind string

const (
	ChangeNew      ChangeKind = "new"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// DocumentDelta is one pending change detected between the two stores.
type DocumentDelta struct {
	DocID      string     `json:"doc_id"`
	Collection string     `json:"collection_name"`
	Kind       ChangeKind `json:"kind"`
	// Hash of the side that changed; empty for deletions.
	ContentHash string `json:"content_hash,omitempty"`
}

// LocalChanges groups vector-side changes not yet in the versioned store.
type LocalChanges struct {
	New      []DocumentDelta `json:"new"`
	Modified []DocumentDelta `json:"modified"`
	Deleted  []DocumentDelta `json:"deleted"`
}

// Total returns the number of pending local changes.
func (lc LocalChanges) Total() int {
	return len(lc.New) + len(lc.Modified) + len(lc.Deleted)
}

// Counts returns per-kind counts in the shape guards report.
func (lc LocalChanges) Counts() map[string]int {
	return map[string]int{
		"new":      len(lc.New),
		"modified": len(lc.Modified),
		"deleted":  len(lc.Deleted),
	}
}

// OperationType is a top-level engine operation.
type OperationType string

const (
	OpCommit   OperationType = "commit"
	OpPush     OperationType = "push"
	OpPull     OperationType = "pull"
	OpMerge    OperationType = "merge"
	OpCheckout OperationType = "checkout"
	OpReset    OperationType = "reset"
	OpInit     OperationType = "init"
	OpClone    OperationType = "clone"
)

// OperationStatus is the lifecycle of an operation-log row.
type OperationStatus string

const (
	OpStatusStarted   OperationStatus = "started"
	OpStatusCompleted OperationStatus = "completed"
	OpStatusFailed    OperationStatus = "failed"
)

// OperationLog is one row of the append-only sync_operations table.
type OperationLog struct {
	ID           string          `json:"operation_id"`
	Type         OperationType   `json:"operation_type"`
	Branch       string          `json:"branch"`
	CommitBefore string          `json:"commit_before,omitempty"`
	CommitAfter  string          `json:"commit_after,omitempty"`
	Collections  []string        `json:"collections,omitempty"`
	AddedCount   int             `json:"added_count"`
	UpdatedCount int             `json:"updated_count"`
	DeletedCount int             `json:"deleted_count"`
	Status       OperationStatus `json:"status"`
	Error        string          `json:"error_message,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at,omitempty"`
}
