package engine

import (
	"context"
	"time"

	"github.com/vmrag/vmrag/internal/chunk"
	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/hash"
	"github.com/vmrag/vmrag/internal/model"
)

// checkEmbedderModel rejects any flow that would embed against a collection
// populated with a different model. The sync-state invariant only holds when
// one model produced every chunk.
func (e *Engine) checkEmbedderModel(ctx context.Context, collection string) error {
	state, err := e.store.GetSyncState(ctx, collection)
	if err != nil {
		return err
	}
	configured := e.vector.ModelName()
	if state != nil && state.EmbeddingModel != "" && state.EmbeddingModel != configured {
		return errors.Newf(errors.CodeEmbedderMismatch,
			"collection %s was embedded with %q but the configured model is %q",
			collection, state.EmbeddingModel, configured).
			WithDetail("collection", collection).
			WithDetail("recorded_model", state.EmbeddingModel).
			WithDetail("configured_model", configured).
			WithSuggestion("switch the configured embedding model back, or reset the collection to regenerate embeddings")
	}
	return nil
}

// ApplyDiffRow applies one document-level change to the vector store and
// records it in the sync log. The vector mutation always lands before the
// log upsert; a crash between the two is detected by the next hash scan.
func (e *Engine) ApplyDiffRow(ctx context.Context, collection, commitID string, row model.DiffRow) (model.SyncAction, error) {
	switch row.Type {
	case model.DiffAdded:
		// A range sync that died before advancing sync-state replays its
		// rows, so an added row can meet chunks from an earlier attempt.
		if err := e.clearDocumentChunks(ctx, collection, row.DocID); err != nil {
			return "", err
		}
		return model.ActionAdded, e.addDocumentChunks(ctx, collection, commitID, row, model.ActionAdded)

	case model.DiffModified:
		if err := e.clearDocumentChunks(ctx, collection, row.DocID); err != nil {
			return "", err
		}
		return model.ActionModified, e.addDocumentChunks(ctx, collection, commitID, row, model.ActionModified)

	case model.DiffRemoved:
		entry, err := e.store.GetSyncLog(ctx, model.PrimaryCorpus, row.DocID)
		if err != nil {
			return "", err
		}
		if entry != nil {
			if err := e.vector.Delete(ctx, collection, entry.ChunkIDs); err != nil {
				return "", err
			}
		}
		return model.ActionDeleted, e.store.DeleteSyncLog(ctx, model.PrimaryCorpus, row.DocID)

	default:
		return "", errors.ValidationError("unknown diff type: "+string(row.Type), nil)
	}
}

// clearDocumentChunks removes every chunk a document occupies in the
// collection. The sync log names the chunks of the last completed apply; the
// metadata sweep catches chunks a crashed apply landed without logging.
func (e *Engine) clearDocumentChunks(ctx context.Context, collection, docID string) error {
	if entry, err := e.store.GetSyncLog(ctx, model.PrimaryCorpus, docID); err != nil {
		return err
	} else if entry != nil && len(entry.ChunkIDs) > 0 {
		if err := e.vector.Delete(ctx, collection, entry.ChunkIDs); err != nil {
			return err
		}
	}

	records, err := e.vector.QueryByMetadata(ctx, collection,
		map[string]any{model.MetaSourceID: docID})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return e.vector.Delete(ctx, collection, ids)
}

// addDocumentChunks chunks a document's new content into the vector store
// and upserts the sync-log row.
func (e *Engine) addDocumentChunks(ctx context.Context, collection, commitID string, row model.DiffRow, action model.SyncAction) error {
	contentHash := row.ToHash
	if contentHash == "" {
		contentHash = hash.Content(row.ToContent)
	}

	doc := &model.Document{
		DocID:       row.DocID,
		Collection:  collection,
		Content:     row.ToContent,
		ContentHash: contentHash,
		Title:       row.Title,
		DocType:     row.DocType,
		Metadata:    row.Metadata,
	}
	ids, texts, metadatas := e.converter.DocumentToChunks(doc, commitID)

	if err := e.vector.Add(ctx, collection, ids, texts, nil, metadatas); err != nil {
		return err
	}

	return e.store.UpsertSyncLog(ctx, &model.SyncLogEntry{
		DocID:       row.DocID,
		Collection:  model.PrimaryCorpus,
		ContentHash: contentHash,
		ChunkIDs:    ids,
		ChunkCount:  len(ids),
		SyncedAt:    time.Now().UTC(),
		Direction:   model.DirectionVersionedToVector,
		Action:      action,
	})
}

// StageDocument migrates one vector-side change into the versioned store and
// clears its local-change markers.
func (e *Engine) StageDocument(ctx context.Context, collection string, delta model.DocumentDelta) error {
	switch delta.Kind {
	case model.ChangeNew, model.ChangeModified:
		records, err := e.vector.QueryByMetadata(ctx, collection,
			map[string]any{model.MetaSourceID: delta.DocID})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return errors.Newf(errors.CodeOperationFailed,
				"document %s has no chunks in collection %s", delta.DocID, collection)
		}
		ordered := chunk.GroupBySource(records)[delta.DocID]
		if len(ordered) == 0 {
			ordered = records
		}

		doc, err := e.converter.ChunksToDocument(ordered)
		if err != nil {
			return err
		}
		doc.Collection = model.PrimaryCorpus
		if err := e.store.UpsertDocument(ctx, doc); err != nil {
			return err
		}

		chunkIDs := make([]string, len(ordered))
		for i, rec := range ordered {
			chunkIDs[i] = rec.ID
		}
		action := model.ActionAdded
		if delta.Kind == model.ChangeModified {
			action = model.ActionModified
		}
		if err := e.store.UpsertSyncLog(ctx, &model.SyncLogEntry{
			DocID:       delta.DocID,
			Collection:  model.PrimaryCorpus,
			ContentHash: doc.ContentHash,
			ChunkIDs:    chunkIDs,
			ChunkCount:  len(chunkIDs),
			SyncedAt:    time.Now().UTC(),
			Direction:   model.DirectionVectorToVersioned,
			Action:      action,
		}); err != nil {
			return err
		}

		// Clear the local-change flag on every staged chunk.
		cleared := make([]model.Metadata, len(chunkIDs))
		for i := range cleared {
			cleared[i] = model.Metadata{model.MetaIsLocalChange: false}
		}
		if err := e.vector.UpdateMetadata(ctx, collection, chunkIDs, cleared); err != nil {
			return err
		}
		return e.store.ClearDirty(ctx, model.PrimaryCorpus, delta.DocID)

	case model.ChangeDeleted:
		if err := e.store.DeleteDocument(ctx, model.PrimaryCorpus, delta.DocID); err != nil {
			return err
		}
		if err := e.store.DeleteSyncLog(ctx, model.PrimaryCorpus, delta.DocID); err != nil {
			return err
		}
		return e.store.ClearDirty(ctx, model.PrimaryCorpus, delta.DocID)

	default:
		return errors.ValidationError("unknown change kind: "+string(delta.Kind), nil)
	}
}

// FullResync regenerates the vector collection from the versioned store at
// HEAD. Any existing collection content is discarded.
func (e *Engine) FullResync(ctx context.Context, collection string) (*SyncSummary, error) {
	if err := e.checkEmbedderModel(ctx, collection); err != nil {
		return nil, err
	}

	exists, err := e.vector.CollectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := e.vector.DeleteCollection(ctx, collection); err != nil {
			return nil, err
		}
	}
	if err := e.vector.CreateCollection(ctx, collection, model.Metadata{
		"hnsw:space":      "cosine",
		"embedding_model": e.vector.ModelName(),
	}); err != nil {
		return nil, err
	}

	head, err := e.vcs.HeadCommit(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := e.store.ListDocuments(ctx, model.PrimaryCorpus)
	if err != nil {
		return nil, err
	}

	summary := &SyncSummary{Collection: collection, ToCommit: head}
	for _, doc := range docs {
		// Cancellation lands between documents, never mid-document.
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.CodeOperationFailed, err)
		}
		row := model.DiffRow{
			Type:      model.DiffAdded,
			DocID:     doc.DocID,
			ToHash:    doc.ContentHash,
			ToContent: doc.Content,
			Title:     doc.Title,
			DocType:   doc.DocType,
			Metadata:  doc.Metadata,
		}
		if _, err := e.ApplyDiffRow(ctx, collection, head, row); err != nil {
			return nil, e.failSync(ctx, collection, err)
		}
		summary.Added++
	}

	if err := e.writeSyncState(ctx, collection, head); err != nil {
		return nil, err
	}
	return summary, nil
}

// CommitRangeSync applies the document diff between two commits to the
// vector store. Sync-state advances to toCommit only after every row landed.
func (e *Engine) CommitRangeSync(ctx context.Context, collection, fromCommit, toCommit string) (*SyncSummary, error) {
	if err := e.checkEmbedderModel(ctx, collection); err != nil {
		return nil, err
	}

	rows, err := e.detector.CommitRangeDiff(ctx, fromCommit, toCommit, collection)
	if err != nil {
		return nil, err
	}

	summary := &SyncSummary{Collection: collection, FromCommit: fromCommit, ToCommit: toCommit}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.CodeOperationFailed, err)
		}
		action, err := e.ApplyDiffRow(ctx, collection, toCommit, row)
		if err != nil {
			return nil, e.failSync(ctx, collection, err)
		}
		switch action {
		case model.ActionAdded:
			summary.Added++
		case model.ActionModified:
			summary.Modified++
		case model.ActionDeleted:
			summary.Deleted++
		}
	}

	if err := e.writeSyncState(ctx, collection, toCommit); err != nil {
		return nil, err
	}
	return summary, nil
}

// SyncSummary reports what a resync or commit-range sync did.
type SyncSummary struct {
	Collection string `json:"collection_name"`
	FromCommit string `json:"from_commit,omitempty"`
	ToCommit   string `json:"to_commit"`
	Added      int    `json:"added"`
	Modified   int    `json:"modified"`
	Deleted    int    `json:"deleted"`
}

// writeSyncState records the synced invariant: collection == projection of
// the versioned store at commit under the configured model.
func (e *Engine) writeSyncState(ctx context.Context, collection, commit string) error {
	docCount, err := e.store.CollectionDocCount(ctx, model.PrimaryCorpus)
	if err != nil {
		return err
	}
	chunkCount, err := e.vector.Count(ctx, collection)
	if err != nil {
		return err
	}
	return e.store.UpsertSyncState(ctx, &model.SyncState{
		Collection:     collection,
		LastSyncCommit: commit,
		LastSyncAt:     time.Now().UTC(),
		DocumentCount:  docCount,
		ChunkCount:     chunkCount,
		EmbeddingModel: e.vector.ModelName(),
		Status:         model.SyncStatusSynced,
	})
}

// failSync marks the sync-state errored before surfacing the cause.
func (e *Engine) failSync(ctx context.Context, collection string, cause error) error {
	if err := e.store.MarkSyncError(ctx, collection, cause.Error()); err != nil {
		e.log.Warn("sync_state_error_mark_failed", "collection", collection, "error", err)
	}
	return cause
}
