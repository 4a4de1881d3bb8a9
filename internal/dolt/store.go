package dolt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
)

// Store provides typed access to vmrag's tables. The engine, the delta
// detector, and the façade read and write through it; raw SQL stays here.
type Store struct {
	adapter *Adapter
}

// NewStore creates a store over the adapter.
func NewStore(adapter *Adapter) *Store {
	return &Store{adapter: adapter}
}

// Adapter exposes the underlying adapter for branch and remote operations.
func (s *Store) Adapter() *Adapter { return s.adapter }

// parseMetadata decodes a JSON metadata column; invalid JSON yields an
// empty map rather than failing a whole row scan.
func parseMetadata(raw string) model.Metadata {
	md := model.Metadata{}
	if raw == "" || raw == "null" {
		return md
	}
	_ = json.Unmarshal([]byte(raw), &md)
	return md
}

// ---- documents ----

// UpsertDocument writes a document row, replacing any existing version.
func (s *Store) UpsertDocument(ctx context.Context, doc *model.Document) error {
	metaLit, err := QuoteJSON(doc.Metadata.Clone())
	if err != nil {
		return errors.OperationError("failed to encode document metadata", err)
	}

	now := sqlTime(time.Now())
	stmt := fmt.Sprintf(
		`INSERT INTO documents
		   (doc_id, collection_name, content, content_hash, title, doc_type, metadata, created_at, updated_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		 ON DUPLICATE KEY UPDATE
		   content = VALUES(content),
		   content_hash = VALUES(content_hash),
		   title = VALUES(title),
		   doc_type = VALUES(doc_type),
		   metadata = VALUES(metadata),
		   updated_at = VALUES(updated_at)`,
		Quote(doc.DocID), Quote(doc.Collection), Quote(doc.Content),
		Quote(doc.ContentHash), Quote(doc.Title), Quote(doc.DocType),
		metaLit, now, now)

	_, err = s.adapter.ExecSQL(ctx, stmt)
	return err
}

// GetDocument reads one document; nil when absent.
func (s *Store) GetDocument(ctx context.Context, collection, docID string) (*model.Document, error) {
	stmt := fmt.Sprintf(
		`SELECT doc_id, collection_name, content, content_hash, title, doc_type,
		        CAST(metadata AS CHAR) AS metadata, created_at, updated_at
		 FROM documents WHERE collection_name = %s AND doc_id = %s`,
		Quote(collection), Quote(docID))

	rows, err := s.adapter.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return documentFromRow(rows[0]), nil
}

// ListDocuments returns every document in a collection, newest updates first.
func (s *Store) ListDocuments(ctx context.Context, collection string) ([]*model.Document, error) {
	stmt := fmt.Sprintf(
		`SELECT doc_id, collection_name, content, content_hash, title, doc_type,
		        CAST(metadata AS CHAR) AS metadata, created_at, updated_at
		 FROM documents WHERE collection_name = %s ORDER BY updated_at DESC`,
		Quote(collection))

	rows, err := s.adapter.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}

	docs := make([]*model.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, documentFromRow(row))
	}
	return docs, nil
}

// ListDocumentHashes returns doc_id -> content_hash for a collection.
func (s *Store) ListDocumentHashes(ctx context.Context, collection string) (map[string]string, error) {
	stmt := fmt.Sprintf(
		"SELECT doc_id, content_hash FROM documents WHERE collection_name = %s",
		Quote(collection))

	rows, err := s.adapter.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]string, len(rows))
	for _, row := range rows {
		hashes[rowString(row, "doc_id")] = rowString(row, "content_hash")
	}
	return hashes, nil
}

// DeleteDocument removes a document row.
func (s *Store) DeleteDocument(ctx context.Context, collection, docID string) error {
	stmt := fmt.Sprintf(
		"DELETE FROM documents WHERE collection_name = %s AND doc_id = %s",
		Quote(collection), Quote(docID))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

func documentFromRow(row map[string]any) *model.Document {
	return &model.Document{
		DocID:       rowString(row, "doc_id"),
		Collection:  rowString(row, "collection_name"),
		Content:     rowString(row, "content"),
		ContentHash: rowString(row, "content_hash"),
		Title:       rowString(row, "title"),
		DocType:     rowString(row, "doc_type"),
		Metadata:    parseMetadata(rowString(row, "metadata")),
		CreatedAt:   rowTime(row, "created_at"),
		UpdatedAt:   rowTime(row, "updated_at"),
	}
}

// ---- collection registry ----

// UpsertCollection writes a collection registry entry.
func (s *Store) UpsertCollection(ctx context.Context, info *model.CollectionInfo) error {
	stmt := fmt.Sprintf(
		`INSERT INTO collections
		   (collection_name, display_name, description, embedding_model, chunk_size, chunk_overlap, document_count, chunk_count)
		 VALUES (%s, %s, %s, %s, %d, %d, %d, %d)
		 ON DUPLICATE KEY UPDATE
		   display_name = VALUES(display_name),
		   description = VALUES(description),
		   embedding_model = VALUES(embedding_model),
		   chunk_size = VALUES(chunk_size),
		   chunk_overlap = VALUES(chunk_overlap),
		   document_count = VALUES(document_count),
		   chunk_count = VALUES(chunk_count)`,
		Quote(info.Name), Quote(info.DisplayName), Quote(info.Description),
		Quote(info.EmbeddingModel), info.ChunkSize, info.ChunkOverlap,
		info.DocumentCount, info.ChunkCount)

	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

// GetCollection reads one registry entry; nil when absent.
func (s *Store) GetCollection(ctx context.Context, name string) (*model.CollectionInfo, error) {
	stmt := fmt.Sprintf("SELECT * FROM collections WHERE collection_name = %s", Quote(name))
	rows, err := s.adapter.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return collectionFromRow(rows[0]), nil
}

// ListCollections returns every registry entry.
func (s *Store) ListCollections(ctx context.Context) ([]*model.CollectionInfo, error) {
	rows, err := s.adapter.QuerySQL(ctx, "SELECT * FROM collections ORDER BY collection_name")
	if err != nil {
		return nil, err
	}

	infos := make([]*model.CollectionInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, collectionFromRow(row))
	}
	return infos, nil
}

// DeleteCollection removes a registry entry.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	stmt := fmt.Sprintf("DELETE FROM collections WHERE collection_name = %s", Quote(name))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

func collectionFromRow(row map[string]any) *model.CollectionInfo {
	return &model.CollectionInfo{
		Name:           rowString(row, "collection_name"),
		DisplayName:    rowString(row, "display_name"),
		Description:    rowString(row, "description"),
		EmbeddingModel: rowString(row, "embedding_model"),
		ChunkSize:      rowInt(row, "chunk_size"),
		ChunkOverlap:   rowInt(row, "chunk_overlap"),
		DocumentCount:  rowInt(row, "document_count"),
		ChunkCount:     rowInt(row, "chunk_count"),
	}
}

// ---- sync state ----

// GetSyncState reads a collection's sync state; nil when never synced.
func (s *Store) GetSyncState(ctx context.Context, collection string) (*model.SyncState, error) {
	stmt := fmt.Sprintf(
		"SELECT * FROM chroma_sync_state WHERE collection_name = %s", Quote(collection))
	rows, err := s.adapter.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &model.SyncState{
		Collection:     rowString(row, "collection_name"),
		LastSyncCommit: rowString(row, "last_sync_commit"),
		LastSyncAt:     rowTime(row, "last_sync_at"),
		DocumentCount:  rowInt(row, "document_count"),
		ChunkCount:     rowInt(row, "chunk_count"),
		EmbeddingModel: rowString(row, "embedding_model"),
		Status:         model.SyncStatus(rowString(row, "sync_status")),
		ErrorMessage:   rowString(row, "error_message"),
	}, nil
}

// ListSyncStates returns sync state for every known collection.
func (s *Store) ListSyncStates(ctx context.Context) ([]*model.SyncState, error) {
	rows, err := s.adapter.QuerySQL(ctx, "SELECT * FROM chroma_sync_state ORDER BY collection_name")
	if err != nil {
		return nil, err
	}

	states := make([]*model.SyncState, 0, len(rows))
	for _, row := range rows {
		states = append(states, &model.SyncState{
			Collection:     rowString(row, "collection_name"),
			LastSyncCommit: rowString(row, "last_sync_commit"),
			LastSyncAt:     rowTime(row, "last_sync_at"),
			DocumentCount:  rowInt(row, "document_count"),
			ChunkCount:     rowInt(row, "chunk_count"),
			EmbeddingModel: rowString(row, "embedding_model"),
			Status:         model.SyncStatus(rowString(row, "sync_status")),
			ErrorMessage:   rowString(row, "error_message"),
		})
	}
	return states, nil
}

// UpsertSyncState writes a sync-state row. The engine calls this last within
// an operation so a crash never advertises an unreached commit.
func (s *Store) UpsertSyncState(ctx context.Context, state *model.SyncState) error {
	stmt := fmt.Sprintf(
		`INSERT INTO chroma_sync_state
		   (collection_name, last_sync_commit, last_sync_at, document_count, chunk_count, embedding_model, sync_status, error_message)
		 VALUES (%s, %s, %s, %d, %d, %s, %s, %s)
		 ON DUPLICATE KEY UPDATE
		   last_sync_commit = VALUES(last_sync_commit),
		   last_sync_at = VALUES(last_sync_at),
		   document_count = VALUES(document_count),
		   chunk_count = VALUES(chunk_count),
		   embedding_model = VALUES(embedding_model),
		   sync_status = VALUES(sync_status),
		   error_message = VALUES(error_message)`,
		Quote(state.Collection), Quote(state.LastSyncCommit), sqlTime(state.LastSyncAt),
		state.DocumentCount, state.ChunkCount, Quote(state.EmbeddingModel),
		Quote(string(state.Status)), Quote(state.ErrorMessage))

	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

// MarkSyncError flags a collection's sync state as errored.
func (s *Store) MarkSyncError(ctx context.Context, collection, message string) error {
	stmt := fmt.Sprintf(
		`UPDATE chroma_sync_state SET sync_status = 'error', error_message = %s
		 WHERE collection_name = %s`,
		Quote(message), Quote(collection))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

// DeleteSyncState removes a collection's sync state.
func (s *Store) DeleteSyncState(ctx context.Context, collection string) error {
	stmt := fmt.Sprintf(
		"DELETE FROM chroma_sync_state WHERE collection_name = %s", Quote(collection))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

// ---- document sync log ----

// UpsertSyncLog writes the authoritative document-to-chunks mapping.
func (s *Store) UpsertSyncLog(ctx context.Context, entry *model.SyncLogEntry) error {
	chunkIDs, err := QuoteJSON(entry.ChunkIDs)
	if err != nil {
		return errors.OperationError("failed to encode chunk ids", err)
	}

	stmt := fmt.Sprintf(
		`INSERT INTO document_sync_log
		   (doc_id, collection_name, content_hash, chunk_ids, chunk_count, synced_at, sync_direction, sync_action)
		 VALUES (%s, %s, %s, %s, %d, %s, %s, %s)
		 ON DUPLICATE KEY UPDATE
		   content_hash = VALUES(content_hash),
		   chunk_ids = VALUES(chunk_ids),
		   chunk_count = VALUES(chunk_count),
		   synced_at = VALUES(synced_at),
		   sync_direction = VALUES(sync_direction),
		   sync_action = VALUES(sync_action)`,
		Quote(entry.DocID), Quote(entry.Collection), Quote(entry.ContentHash),
		chunkIDs, entry.ChunkCount, sqlTime(entry.SyncedAt),
		Quote(string(entry.Direction)), Quote(string(entry.Action)))

	_, err = s.adapter.ExecSQL(ctx, stmt)
	return err
}

// GetSyncLog reads one sync-log entry; nil when absent.
func (s *Store) GetSyncLog(ctx context.Context, collection, docID string) (*model.SyncLogEntry, error) {
	stmt := fmt.Sprintf(
		`SELECT doc_id, collection_name, content_hash, CAST(chunk_ids AS CHAR) AS chunk_ids,
		        chunk_count, synced_at, sync_direction, sync_action
		 FROM document_sync_log WHERE collection_name = %s AND doc_id = %s`,
		Quote(collection), Quote(docID))

	rows, err := s.adapter.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return syncLogFromRow(rows[0]), nil
}

// ListSyncLog returns every sync-log entry for a collection.
func (s *Store) ListSyncLog(ctx context.Context, collection string) ([]*model.SyncLogEntry, error) {
	stmt := fmt.Sprintf(
		`SELECT doc_id, collection_name, content_hash, CAST(chunk_ids AS CHAR) AS chunk_ids,
		        chunk_count, synced_at, sync_direction, sync_action
		 FROM document_sync_log WHERE collection_name = %s`,
		Quote(collection))

	rows, err := s.adapter.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}

	entries := make([]*model.SyncLogEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, syncLogFromRow(row))
	}
	return entries, nil
}

// DeleteSyncLog removes a sync-log entry.
func (s *Store) DeleteSyncLog(ctx context.Context, collection, docID string) error {
	stmt := fmt.Sprintf(
		"DELETE FROM document_sync_log WHERE collection_name = %s AND doc_id = %s",
		Quote(collection), Quote(docID))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

func syncLogFromRow(row map[string]any) *model.SyncLogEntry {
	entry := &model.SyncLogEntry{
		DocID:       rowString(row, "doc_id"),
		Collection:  rowString(row, "collection_name"),
		ContentHash: rowString(row, "content_hash"),
		ChunkCount:  rowInt(row, "chunk_count"),
		SyncedAt:    rowTime(row, "synced_at"),
		Direction:   model.SyncDirection(rowString(row, "sync_direction")),
		Action:      model.SyncAction(rowString(row, "sync_action")),
	}
	if raw := rowString(row, "chunk_ids"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &entry.ChunkIDs)
	}
	return entry
}

// ---- operations log ----

// InsertOperation writes a started operation row before any flow runs.
func (s *Store) InsertOperation(ctx context.Context, op *model.OperationLog) error {
	collections, err := QuoteJSON(op.Collections)
	if err != nil {
		return errors.OperationError("failed to encode collection list", err)
	}

	stmt := fmt.Sprintf(
		`INSERT INTO sync_operations
		   (operation_id, operation_type, branch, commit_before, collections, status, started_at)
		 VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		Quote(op.ID), Quote(string(op.Type)), Quote(op.Branch),
		Quote(op.CommitBefore), collections, Quote(string(op.Status)),
		sqlTime(op.StartedAt))

	_, err = s.adapter.ExecSQL(ctx, stmt)
	return err
}

// CompleteOperation finalizes an operation row with counts and after-commit.
func (s *Store) CompleteOperation(ctx context.Context, op *model.OperationLog) error {
	stmt := fmt.Sprintf(
		`UPDATE sync_operations SET
		   status = 'completed',
		   commit_after = %s,
		   added_count = %d, updated_count = %d, deleted_count = %d,
		   finished_at = %s
		 WHERE operation_id = %s`,
		Quote(op.CommitAfter), op.AddedCount, op.UpdatedCount, op.DeletedCount,
		sqlTime(time.Now()), Quote(op.ID))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

// FailOperation marks an operation row failed with its error message.
func (s *Store) FailOperation(ctx context.Context, operationID, message string) error {
	stmt := fmt.Sprintf(
		`UPDATE sync_operations SET status = 'failed', error_message = %s, finished_at = %s
		 WHERE operation_id = %s`,
		Quote(message), sqlTime(time.Now()), Quote(operationID))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

// ListOperations returns the newest operation rows.
func (s *Store) ListOperations(ctx context.Context, limit int) ([]*model.OperationLog, error) {
	if limit <= 0 {
		limit = 20
	}
	stmt := fmt.Sprintf(
		`SELECT operation_id, operation_type, branch, commit_before, commit_after,
		        CAST(collections AS CHAR) AS collections,
		        added_count, updated_count, deleted_count, status, error_message,
		        started_at, finished_at
		 FROM sync_operations ORDER BY started_at DESC LIMIT %d`, limit)

	rows, err := s.adapter.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}

	ops := make([]*model.OperationLog, 0, len(rows))
	for _, row := range rows {
		op := &model.OperationLog{
			ID:           rowString(row, "operation_id"),
			Type:         model.OperationType(rowString(row, "operation_type")),
			Branch:       rowString(row, "branch"),
			CommitBefore: rowString(row, "commit_before"),
			CommitAfter:  rowString(row, "commit_after"),
			AddedCount:   rowInt(row, "added_count"),
			UpdatedCount: rowInt(row, "updated_count"),
			DeletedCount: rowInt(row, "deleted_count"),
			Status:       model.OperationStatus(rowString(row, "status")),
			Error:        rowString(row, "error_message"),
			StartedAt:    rowTime(row, "started_at"),
			FinishedAt:   rowTime(row, "finished_at"),
		}
		if raw := rowString(row, "collections"); raw != "" {
			_ = json.Unmarshal([]byte(raw), &op.Collections)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// ---- dirty set ----

// MarkDirty records that a document changed in the vector store since the
// last stage. Idempotent.
func (s *Store) MarkDirty(ctx context.Context, collection, docID string) error {
	stmt := fmt.Sprintf(
		`INSERT INTO dirty_documents (collection_name, doc_id, marked_at)
		 VALUES (%s, %s, %s)
		 ON DUPLICATE KEY UPDATE marked_at = VALUES(marked_at)`,
		Quote(collection), Quote(docID), sqlTime(time.Now()))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

// ListDirty returns the dirty doc ids for a collection.
func (s *Store) ListDirty(ctx context.Context, collection string) ([]string, error) {
	stmt := fmt.Sprintf(
		"SELECT doc_id FROM dirty_documents WHERE collection_name = %s ORDER BY marked_at",
		Quote(collection))
	rows, err := s.adapter.QuerySQL(ctx, stmt)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, rowString(row, "doc_id"))
	}
	return ids, nil
}

// ClearDirty removes one document from the dirty set.
func (s *Store) ClearDirty(ctx context.Context, collection, docID string) error {
	stmt := fmt.Sprintf(
		"DELETE FROM dirty_documents WHERE collection_name = %s AND doc_id = %s",
		Quote(collection), Quote(docID))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

// ClearAllDirty empties a collection's dirty set.
func (s *Store) ClearAllDirty(ctx context.Context, collection string) error {
	stmt := fmt.Sprintf(
		"DELETE FROM dirty_documents WHERE collection_name = %s", Quote(collection))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

// ---- vcs links ----

// InsertVCSLink records an association between a versioned-store commit and
// an external VCS reference. Bookkeeping only.
func (s *Store) InsertVCSLink(ctx context.Context, linkID, commitID, system, ref string) error {
	stmt := fmt.Sprintf(
		`INSERT INTO vcs_links (link_id, commit_id, external_system, external_ref, created_at)
		 VALUES (%s, %s, %s, %s, %s)`,
		Quote(linkID), Quote(commitID), Quote(system), Quote(ref), sqlTime(time.Now()))
	_, err := s.adapter.ExecSQL(ctx, stmt)
	return err
}

// ListVCSLinks returns links for a commit, or all links when commitID is "".
func (s *Store) ListVCSLinks(ctx context.Context, commitID string) ([]map[string]any, error) {
	stmt := "SELECT * FROM vcs_links"
	if commitID != "" {
		stmt += fmt.Sprintf(" WHERE commit_id = %s", Quote(commitID))
	}
	stmt += " ORDER BY created_at"
	return s.adapter.QuerySQL(ctx, stmt)
}

// CollectionDocCount returns the number of documents rows in a collection.
func (s *Store) CollectionDocCount(ctx context.Context, collection string) (int, error) {
	stmt := fmt.Sprintf(
		"SELECT COUNT(*) AS n FROM documents WHERE collection_name = %s", Quote(collection))
	out, err := s.adapter.QueryScalar(ctx, stmt)
	if err != nil {
		return 0, err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return 0, nil
	}
	var n int
	_, err = fmt.Sscanf(out, "%d", &n)
	return n, err
}
