// Package delta computes pending changes between the versioned store and the
// vector store. The detector only reads; every mutation belongs to the engine.
package delta

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/vmrag/vmrag/internal/chunk"
	"github.com/vmrag/vmrag/internal/model"
)

// DocumentSource is the versioned-store read surface the detector needs.
type DocumentSource interface {
	ListDocuments(ctx context.Context, collection string) ([]*model.Document, error)
	ListDocumentHashes(ctx context.Context, collection string) (map[string]string, error)
	ListSyncLog(ctx context.Context, collection string) ([]*model.SyncLogEntry, error)
	ListDirty(ctx context.Context, collection string) ([]string, error)
}

// ChunkSource is the vector-store read surface.
type ChunkSource interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	GetAll(ctx context.Context, collection string, includeEmbeddings bool) ([]model.ChunkRecord, error)
	QueryByMetadata(ctx context.Context, collection string, where map[string]any) ([]model.ChunkRecord, error)
}

// Differ produces document-level diffs between two commits.
type Differ interface {
	TableDiff(ctx context.Context, fromCommit, toCommit, table, collection string) ([]model.DiffRow, error)
}

// Detector computes document-level deltas for one collection at a time.
type Detector struct {
	docs      DocumentSource
	chunks    ChunkSource
	differ    Differ
	converter *chunk.Converter
}

// NewDetector creates a detector over the two store surfaces.
func NewDetector(docs DocumentSource, chunks ChunkSource, differ Differ, converter *chunk.Converter) *Detector {
	return &Detector{docs: docs, chunks: chunks, differ: differ, converter: converter}
}

// PendingVersionedToVector lists documents whose versioned-store content has
// not reached the vector store: rows with no sync-log entry are new, rows
// whose hash differs from the logged hash are modified. Order follows the
// document listing (updated_at descending).
func (d *Detector) PendingVersionedToVector(ctx context.Context, collection string) ([]model.DocumentDelta, error) {
	docs, err := d.docs.ListDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}
	entries, err := d.docs.ListSyncLog(ctx, collection)
	if err != nil {
		return nil, err
	}

	logged := make(map[string]string, len(entries))
	for _, entry := range entries {
		logged[entry.DocID] = entry.ContentHash
	}

	var deltas []model.DocumentDelta
	for _, doc := range docs {
		loggedHash, ok := logged[doc.DocID]
		switch {
		case !ok:
			deltas = append(deltas, model.DocumentDelta{
				DocID: doc.DocID, Collection: collection,
				Kind: model.ChangeNew, ContentHash: doc.ContentHash,
			})
		case loggedHash != doc.ContentHash:
			deltas = append(deltas, model.DocumentDelta{
				DocID: doc.DocID, Collection: collection,
				Kind: model.ChangeModified, ContentHash: doc.ContentHash,
			})
		}
	}
	return deltas, nil
}

// DeletedInVersioned lists sync-log entries whose document no longer exists
// in the versioned store.
func (d *Detector) DeletedInVersioned(ctx context.Context, collection string) ([]model.DocumentDelta, error) {
	entries, err := d.docs.ListSyncLog(ctx, collection)
	if err != nil {
		return nil, err
	}
	hashes, err := d.docs.ListDocumentHashes(ctx, collection)
	if err != nil {
		return nil, err
	}

	var deltas []model.DocumentDelta
	for _, entry := range entries {
		if _, exists := hashes[entry.DocID]; !exists {
			deltas = append(deltas, model.DocumentDelta{
				DocID: entry.DocID, Collection: collection, Kind: model.ChangeDeleted,
			})
		}
	}
	sortDeltas(deltas)
	return deltas, nil
}

// LocalChangesInVector detects vector-side edits not yet in the versioned
// store. Four scans run concurrently: the is_local_change flag union the
// dirty set, reassembled-hash mismatches, vector-only documents, and
// versioned-only documents. The union is deduplicated so a document lands in
// exactly one bucket, preferring new over modified over deleted.
func (d *Detector) LocalChangesInVector(ctx context.Context, collection string) (model.LocalChanges, error) {
	exists, err := d.chunks.CollectionExists(ctx, collection)
	if err != nil {
		return model.LocalChanges{}, err
	}
	if !exists {
		return model.LocalChanges{}, nil
	}

	var (
		flagged []model.ChunkRecord
		dirty   []string
		all     []model.ChunkRecord
		verHash map[string]string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		flagged, err = d.chunks.QueryByMetadata(gctx, collection,
			map[string]any{model.MetaIsLocalChange: true})
		return err
	})
	g.Go(func() error {
		var err error
		dirty, err = d.docs.ListDirty(gctx, collection)
		return err
	})
	g.Go(func() error {
		var err error
		all, err = d.chunks.GetAll(gctx, collection, false)
		return err
	})
	g.Go(func() error {
		var err error
		verHash, err = d.docs.ListDocumentHashes(gctx, collection)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.LocalChanges{}, err
	}

	// Reassemble each vector-side document and recompute its hash.
	vecHash := make(map[string]string)
	for sourceID, group := range chunk.GroupBySource(all) {
		doc, err := d.converter.ChunksToDocument(group)
		if err != nil {
			return model.LocalChanges{}, err
		}
		vecHash[sourceID] = doc.ContentHash
	}

	flaggedIDs := make(map[string]bool)
	for _, rec := range flagged {
		if id, ok := rec.Metadata[model.MetaSourceID].(string); ok && id != "" {
			flaggedIDs[id] = true
		}
	}
	for _, id := range dirty {
		flaggedIDs[id] = true
	}

	// Bucket with priority new > modified > deleted.
	kinds := make(map[string]model.ChangeKind)
	claim := func(id string, kind model.ChangeKind) {
		current, ok := kinds[id]
		if !ok || rank(kind) > rank(current) {
			kinds[id] = kind
		}
	}

	for id := range vecHash {
		if _, inVersioned := verHash[id]; !inVersioned {
			claim(id, model.ChangeNew)
		}
	}
	for id, vh := range vecHash {
		if versioned, ok := verHash[id]; ok && versioned != vh {
			claim(id, model.ChangeModified)
		}
	}
	for id := range flaggedIDs {
		if _, inVector := vecHash[id]; !inVector {
			continue
		}
		claim(id, model.ChangeModified)
	}
	for id := range verHash {
		if _, inVector := vecHash[id]; !inVector {
			claim(id, model.ChangeDeleted)
		}
	}

	var changes model.LocalChanges
	for id, kind := range kinds {
		delta := model.DocumentDelta{DocID: id, Collection: collection, Kind: kind}
		switch kind {
		case model.ChangeNew:
			delta.ContentHash = vecHash[id]
			changes.New = append(changes.New, delta)
		case model.ChangeModified:
			delta.ContentHash = vecHash[id]
			changes.Modified = append(changes.Modified, delta)
		case model.ChangeDeleted:
			changes.Deleted = append(changes.Deleted, delta)
		}
	}
	sortDeltas(changes.New)
	sortDeltas(changes.Modified)
	sortDeltas(changes.Deleted)
	return changes, nil
}

// CommitRangeDiff lists document-level changes between two commits.
func (d *Detector) CommitRangeDiff(ctx context.Context, fromCommit, toCommit, collection string) ([]model.DiffRow, error) {
	return d.differ.TableDiff(ctx, fromCommit, toCommit, "documents", collection)
}

func rank(kind model.ChangeKind) int {
	switch kind {
	case model.ChangeNew:
		return 3
	case model.ChangeModified:
		return 2
	default:
		return 1
	}
}

// sortDeltas orders a bucket by doc id so results are deterministic.
func sortDeltas(deltas []model.DocumentDelta) {
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].DocID < deltas[j].DocID })
}
