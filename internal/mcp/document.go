package mcp

import (
	"context"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vmrag/vmrag/internal/chroma"
	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/hash"
	"github.com/vmrag/vmrag/internal/model"
)

// DocumentInput is one document in an add or update call.
type DocumentInput struct {
	ID       string         `json:"id,omitempty" jsonschema:"Document id. Generated when omitted on add; required on update."`
	Content  string         `json:"content" jsonschema:"Full document content. Chunked and embedded automatically."`
	Title    string         `json:"title,omitempty" jsonschema:"Optional document title."`
	DocType  string         `json:"doc_type,omitempty" jsonschema:"Optional document type label."`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"Arbitrary metadata preserved verbatim."`
}

// ChunkResult is one chunk returned by get, peek, or query tools.
type ChunkResult struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Distance float32        `json:"distance,omitempty"`
}

func chunkResults(records []model.ChunkRecord) []ChunkResult {
	out := make([]ChunkResult, 0, len(records))
	for _, rec := range records {
		out = append(out, ChunkResult{ID: rec.ID, Text: rec.Text, Metadata: rec.Metadata})
	}
	return out
}

func (s *Server) registerDocumentTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_collections",
		Description: "List all vector-store collections.",
	}, s.listCollections)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_collection_info",
		Description: "Get a collection's metadata, chunk count, and sync state.",
	}, s.getCollectionInfo)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_collection_count",
		Description: "Count the chunks in a collection.",
	}, s.getCollectionCount)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "peek_collection",
		Description: "Return the first few chunks of a collection.",
	}, s.peekCollection)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_collection",
		Description: "Create a vector-store collection. Cosine distance and the configured embedding model are recorded in its metadata.",
	}, s.createCollection)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "modify_collection",
		Description: "Rename a collection or replace its metadata.",
	}, s.modifyCollection)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_collection",
		Description: "Delete a collection and its sync state. Destructive; requires confirm=true.",
	}, s.deleteCollection)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_documents",
		Description: "Add documents to a collection. Each document is chunked, embedded, and flagged as an uncommitted local change until the next commit.",
	}, s.addDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query_documents",
		Description: "Semantic search over a collection, with optional metadata and full-text filters.",
	}, s.queryDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_documents",
		Description: "Fetch chunks by id or by filter, with pagination.",
	}, s.getDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_documents",
		Description: "Replace existing documents. Old chunks are removed, the new content is re-chunked and re-embedded, and the documents are flagged as uncommitted local changes.",
	}, s.updateDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_documents",
		Description: "Delete documents and all their chunks from a collection. The deletions are flagged as uncommitted local changes.",
	}, s.deleteDocuments)
}

type ListCollectionsInput struct{}

type ListCollectionsOutput struct {
	Ack
	Collections []string `json:"collections"`
}

func (s *Server) listCollections(ctx context.Context, req *mcp.CallToolRequest, input ListCollectionsInput) (*mcp.CallToolResult, ListCollectionsOutput, error) {
	names, err := s.vector.ListCollections(ctx)
	if err != nil {
		return errResult(err), ListCollectionsOutput{}, nil
	}
	return nil, ListCollectionsOutput{
		Ack:         ack("%d collections", len(names)),
		Collections: names,
	}, nil
}

type CollectionInput struct {
	Collection string `json:"collection" jsonschema:"Collection name."`
}

type CollectionInfoOutput struct {
	Ack
	Collection string           `json:"collection"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	ChunkCount int              `json:"chunk_count"`
	SyncState  *model.SyncState `json:"sync_state,omitempty"`
}

func (s *Server) getCollectionInfo(ctx context.Context, req *mcp.CallToolRequest, input CollectionInput) (*mcp.CallToolResult, CollectionInfoOutput, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), CollectionInfoOutput{}, nil
	}
	metadata, err := s.vector.GetCollectionMetadata(ctx, input.Collection)
	if err != nil {
		return errResult(err), CollectionInfoOutput{}, nil
	}
	count, err := s.vector.Count(ctx, input.Collection)
	if err != nil {
		return errResult(err), CollectionInfoOutput{}, nil
	}
	// Sync state is optional; an unlinked collection simply has none.
	state, err := s.store.GetSyncState(ctx, input.Collection)
	if err != nil {
		return errResult(err), CollectionInfoOutput{}, nil
	}
	return nil, CollectionInfoOutput{
		Ack:        ack("collection %s", input.Collection),
		Collection: input.Collection,
		Metadata:   metadata,
		ChunkCount: count,
		SyncState:  state,
	}, nil
}

type CollectionCountOutput struct {
	Ack
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

func (s *Server) getCollectionCount(ctx context.Context, req *mcp.CallToolRequest, input CollectionInput) (*mcp.CallToolResult, CollectionCountOutput, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), CollectionCountOutput{}, nil
	}
	count, err := s.vector.Count(ctx, input.Collection)
	if err != nil {
		return errResult(err), CollectionCountOutput{}, nil
	}
	return nil, CollectionCountOutput{
		Ack:        ack("%d chunks in %s", count, input.Collection),
		Collection: input.Collection,
		Count:      count,
	}, nil
}

type PeekCollectionInput struct {
	Collection string `json:"collection" jsonschema:"Collection name."`
	Limit      int    `json:"limit,omitempty" jsonschema:"Number of chunks to return. Defaults to 5."`
}

type ChunksOutput struct {
	Ack
	Chunks []ChunkResult `json:"chunks"`
}

func (s *Server) peekCollection(ctx context.Context, req *mcp.CallToolRequest, input PeekCollectionInput) (*mcp.CallToolResult, ChunksOutput, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), ChunksOutput{}, nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 5
	}
	records, err := s.vector.GetFiltered(ctx, input.Collection, nil, nil, limit, 0)
	if err != nil {
		return errResult(err), ChunksOutput{}, nil
	}
	return nil, ChunksOutput{
		Ack:    ack("%d chunks", len(records)),
		Chunks: chunkResults(records),
	}, nil
}

type CreateCollectionInput struct {
	Collection string         `json:"collection" jsonschema:"Collection name."`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"Extra collection metadata merged over the defaults."`
}

func (s *Server) createCollection(ctx context.Context, req *mcp.CallToolRequest, input CreateCollectionInput) (*mcp.CallToolResult, Ack, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), Ack{}, nil
	}
	metadata := model.Metadata{
		"hnsw:space":      "cosine",
		"embedding_model": s.vector.ModelName(),
	}
	for k, v := range input.Metadata {
		metadata[k] = v
	}
	if err := s.vector.CreateCollection(ctx, input.Collection, metadata); err != nil {
		return errResult(err), Ack{}, nil
	}
	return nil, ack("created collection %s", input.Collection), nil
}

type ModifyCollectionInput struct {
	Collection string         `json:"collection" jsonschema:"Collection to modify."`
	NewName    string         `json:"new_name,omitempty" jsonschema:"New collection name, when renaming."`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"Replacement metadata, when changing it."`
}

func (s *Server) modifyCollection(ctx context.Context, req *mcp.CallToolRequest, input ModifyCollectionInput) (*mcp.CallToolResult, Ack, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), Ack{}, nil
	}
	if input.NewName == "" && input.Metadata == nil {
		return errResult(errors.ValidationError("nothing to modify: pass new_name or metadata", nil)), Ack{}, nil
	}
	if err := s.vector.ModifyCollection(ctx, input.Collection, input.NewName, model.Metadata(input.Metadata)); err != nil {
		return errResult(err), Ack{}, nil
	}
	return nil, ack("modified collection %s", input.Collection), nil
}

type DeleteCollectionInput struct {
	Collection string `json:"collection" jsonschema:"Collection to delete."`
	Confirm    bool   `json:"confirm,omitempty" jsonschema:"Must be true. Deleting a collection cannot be undone."`
}

func (s *Server) deleteCollection(ctx context.Context, req *mcp.CallToolRequest, input DeleteCollectionInput) (*mcp.CallToolResult, Ack, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), Ack{}, nil
	}
	if !input.Confirm {
		err := errors.Newf(errors.CodeConfirmationRequired,
			"deleting collection %s is irreversible", input.Collection).
			WithSuggestion("call again with confirm=true to proceed")
		return errResult(err), Ack{}, nil
	}
	if err := s.vector.DeleteCollection(ctx, input.Collection); err != nil {
		return errResult(err), Ack{}, nil
	}
	if err := s.store.DeleteSyncState(ctx, input.Collection); err != nil {
		return errResult(err), Ack{}, nil
	}
	s.log.Info("collection_deleted", "collection", input.Collection)
	return nil, ack("deleted collection %s", input.Collection), nil
}

type AddDocumentsInput struct {
	Collection string          `json:"collection" jsonschema:"Target collection."`
	Documents  []DocumentInput `json:"documents" jsonschema:"Documents to add."`
}

type AddDocumentsOutput struct {
	Ack
	IDs []string `json:"ids"`
}

func (s *Server) addDocuments(ctx context.Context, req *mcp.CallToolRequest, input AddDocumentsInput) (*mcp.CallToolResult, AddDocumentsOutput, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), AddDocumentsOutput{}, nil
	}
	if len(input.Documents) == 0 {
		return errResult(errors.ValidationError("documents must not be empty", nil)), AddDocumentsOutput{}, nil
	}
	for _, d := range input.Documents {
		if d.Content == "" {
			return errResult(errors.ValidationError("every document needs content", nil)), AddDocumentsOutput{}, nil
		}
	}

	ids := make([]string, 0, len(input.Documents))
	for _, d := range input.Documents {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		if err := s.writeDocument(ctx, input.Collection, id, d); err != nil {
			return errResult(err), AddDocumentsOutput{}, nil
		}
		ids = append(ids, id)
	}
	return nil, AddDocumentsOutput{
		Ack: ack("added %d documents to %s", len(ids), input.Collection),
		IDs: ids,
	}, nil
}

// writeDocument chunks, embeds, and stores one document, flagging every chunk
// as a local change and marking the document dirty for the next commit.
func (s *Server) writeDocument(ctx context.Context, collection, id string, d DocumentInput) error {
	doc := &model.Document{
		DocID:       id,
		Collection:  collection,
		Content:     d.Content,
		ContentHash: hash.Content(d.Content),
		Title:       d.Title,
		DocType:     d.DocType,
		Metadata:    model.Metadata(d.Metadata),
	}
	chunkIDs, texts, metadatas := s.converter.DocumentToChunks(doc, "")
	for _, meta := range metadatas {
		meta[model.MetaIsLocalChange] = true
	}
	if err := s.vector.Add(ctx, collection, chunkIDs, texts, nil, metadatas); err != nil {
		return err
	}
	return s.store.MarkDirty(ctx, model.PrimaryCorpus, id)
}

// deleteChunksOf removes every chunk of one document. Returns how many
// chunks were deleted.
func (s *Server) deleteChunksOf(ctx context.Context, collection, docID string) (int, error) {
	records, err := s.vector.QueryByMetadata(ctx, collection, map[string]any{model.MetaSourceID: docID})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	chunkIDs := make([]string, 0, len(records))
	for _, rec := range records {
		chunkIDs = append(chunkIDs, rec.ID)
	}
	if err := s.vector.Delete(ctx, collection, chunkIDs); err != nil {
		return 0, err
	}
	return len(chunkIDs), nil
}

type QueryDocumentsInput struct {
	Collection string         `json:"collection" jsonschema:"Collection to search."`
	QueryTexts []string       `json:"query_texts" jsonschema:"Natural-language queries, embedded server-side."`
	NResults   int            `json:"n_results,omitempty" jsonschema:"Results per query. Defaults to 10."`
	Filter     map[string]any `json:"filter,omitempty" jsonschema:"Metadata/document filter: field comparisons ($eq,$ne,$gt,$gte,$lt,$lte,$in,$nin), $contains/$not_contains, $and/$or."`
}

// QueryMatch is one search hit.
type QueryMatch struct {
	Query   string        `json:"query"`
	Results []ChunkResult `json:"results"`
}

type QueryDocumentsOutput struct {
	Ack
	Matches []QueryMatch `json:"matches"`
}

func (s *Server) queryDocuments(ctx context.Context, req *mcp.CallToolRequest, input QueryDocumentsInput) (*mcp.CallToolResult, QueryDocumentsOutput, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), QueryDocumentsOutput{}, nil
	}
	if len(input.QueryTexts) == 0 {
		return errResult(errors.ValidationError("query_texts must not be empty", nil)), QueryDocumentsOutput{}, nil
	}
	where, whereDocument, err := splitFilter(input.Filter)
	if err != nil {
		return errResult(err), QueryDocumentsOutput{}, nil
	}
	nResults := input.NResults
	if nResults <= 0 {
		nResults = 10
	}

	resp, err := s.vector.QueryText(ctx, input.Collection, input.QueryTexts, nResults, where, whereDocument)
	if err != nil {
		return errResult(err), QueryDocumentsOutput{}, nil
	}

	matches := make([]QueryMatch, 0, len(input.QueryTexts))
	for qi, query := range input.QueryTexts {
		match := QueryMatch{Query: query}
		if qi < len(resp.IDs) {
			for ri, id := range resp.IDs[qi] {
				result := ChunkResult{ID: id}
				if qi < len(resp.Documents) && ri < len(resp.Documents[qi]) {
					result.Text = resp.Documents[qi][ri]
				}
				if qi < len(resp.Metadatas) && ri < len(resp.Metadatas[qi]) {
					result.Metadata = resp.Metadatas[qi][ri]
				}
				if qi < len(resp.Distances) && ri < len(resp.Distances[qi]) {
					result.Distance = resp.Distances[qi][ri]
				}
				match.Results = append(match.Results, result)
			}
		}
		matches = append(matches, match)
	}
	return nil, QueryDocumentsOutput{
		Ack:     ack("%d queries against %s", len(matches), input.Collection),
		Matches: matches,
	}, nil
}

type GetDocumentsInput struct {
	Collection string         `json:"collection" jsonschema:"Collection to read."`
	IDs        []string       `json:"ids,omitempty" jsonschema:"Chunk ids to fetch. When set, filter/limit/offset are ignored."`
	Filter     map[string]any `json:"filter,omitempty" jsonschema:"Metadata/document filter, same language as query_documents."`
	Limit      int            `json:"limit,omitempty" jsonschema:"Page size for filtered reads."`
	Offset     int            `json:"offset,omitempty" jsonschema:"Page offset for filtered reads."`
}

func (s *Server) getDocuments(ctx context.Context, req *mcp.CallToolRequest, input GetDocumentsInput) (*mcp.CallToolResult, ChunksOutput, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), ChunksOutput{}, nil
	}

	var records []model.ChunkRecord
	var err error
	if len(input.IDs) > 0 {
		records, err = s.vector.GetByIDs(ctx, input.Collection, input.IDs)
	} else {
		var where, whereDocument map[string]any
		where, whereDocument, err = splitFilter(input.Filter)
		if err == nil {
			records, err = s.vector.GetFiltered(ctx, input.Collection, where, whereDocument, input.Limit, input.Offset)
		}
	}
	if err != nil {
		return errResult(err), ChunksOutput{}, nil
	}
	return nil, ChunksOutput{
		Ack:    ack("%d chunks", len(records)),
		Chunks: chunkResults(records),
	}, nil
}

type UpdateDocumentsInput struct {
	Collection string          `json:"collection" jsonschema:"Target collection."`
	Documents  []DocumentInput `json:"documents" jsonschema:"Documents to replace. Every document needs an id."`
}

func (s *Server) updateDocuments(ctx context.Context, req *mcp.CallToolRequest, input UpdateDocumentsInput) (*mcp.CallToolResult, Ack, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), Ack{}, nil
	}
	if len(input.Documents) == 0 {
		return errResult(errors.ValidationError("documents must not be empty", nil)), Ack{}, nil
	}
	for _, d := range input.Documents {
		if d.ID == "" {
			return errResult(errors.ValidationError("every document needs an id on update", nil)), Ack{}, nil
		}
		if d.Content == "" {
			return errResult(errors.ValidationError("every document needs content", nil)), Ack{}, nil
		}
	}

	for _, d := range input.Documents {
		// Replace, never merge: stale chunks of a shrunk document must go.
		if _, err := s.deleteChunksOf(ctx, input.Collection, d.ID); err != nil {
			return errResult(err), Ack{}, nil
		}
		if err := s.writeDocument(ctx, input.Collection, d.ID, d); err != nil {
			return errResult(err), Ack{}, nil
		}
	}
	return nil, ack("updated %d documents in %s", len(input.Documents), input.Collection), nil
}

type DeleteDocumentsInput struct {
	Collection string   `json:"collection" jsonschema:"Target collection."`
	IDs        []string `json:"ids" jsonschema:"Document ids to delete."`
}

type DeleteDocumentsOutput struct {
	Ack
	DeletedChunks int `json:"deleted_chunks"`
}

func (s *Server) deleteDocuments(ctx context.Context, req *mcp.CallToolRequest, input DeleteDocumentsInput) (*mcp.CallToolResult, DeleteDocumentsOutput, error) {
	if input.Collection == "" {
		return errResult(errors.ValidationError("collection is required", nil)), DeleteDocumentsOutput{}, nil
	}
	if len(input.IDs) == 0 {
		return errResult(errors.ValidationError("ids must not be empty", nil)), DeleteDocumentsOutput{}, nil
	}

	deleted := 0
	for _, id := range input.IDs {
		n, err := s.deleteChunksOf(ctx, input.Collection, id)
		if err != nil {
			return errResult(err), DeleteDocumentsOutput{}, nil
		}
		deleted += n
		// A dirty row is what makes the deletion visible to the next commit.
		if err := s.store.MarkDirty(ctx, model.PrimaryCorpus, id); err != nil {
			return errResult(err), DeleteDocumentsOutput{}, nil
		}
	}
	return nil, DeleteDocumentsOutput{
		Ack:           ack("deleted %d documents (%d chunks) from %s", len(input.IDs), deleted, input.Collection),
		DeletedChunks: deleted,
	}, nil
}

// splitFilter validates a caller filter and splits it into metadata and
// document clauses.
func splitFilter(filter map[string]any) (where, whereDocument map[string]any, err error) {
	if len(filter) == 0 {
		return nil, nil, nil
	}
	if err := chroma.ValidateFilter(filter); err != nil {
		return nil, nil, err
	}
	where, whereDocument = chroma.TranslateFilter(filter)
	return where, whereDocument, nil
}
