package chroma

import (
	"context"

	"github.com/vmrag/vmrag/internal/embed"
	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
)

// getAllPageSize bounds each page when enumerating a collection.
const getAllPageSize = 500

// Adapter is the engine-facing vector-store surface. It owns the embedder:
// when a write arrives without embeddings, the adapter generates them with a
// blocking call before the write proceeds.
type Adapter struct {
	client   *Client
	embedder embed.Embedder
}

// NewAdapter creates an adapter over a client and an embedder.
func NewAdapter(client *Client, embedder embed.Embedder) *Adapter {
	return &Adapter{client: client, embedder: embedder}
}

// ModelName returns the embedding model tag recorded in sync state.
func (a *Adapter) ModelName() string {
	return a.embedder.ModelName()
}

// Heartbeat checks the vector store is reachable.
func (a *Adapter) Heartbeat(ctx context.Context) error {
	return a.client.Heartbeat(ctx)
}

// CreateCollection creates a collection.
func (a *Adapter) CreateCollection(ctx context.Context, name string, metadata model.Metadata) error {
	_, err := a.client.CreateCollection(ctx, name, metadata)
	return err
}

// DeleteCollection deletes a collection.
func (a *Adapter) DeleteCollection(ctx context.Context, name string) error {
	return a.client.DeleteCollection(ctx, name)
}

// ListCollections returns every collection name.
func (a *Adapter) ListCollections(ctx context.Context) ([]string, error) {
	collections, err := a.client.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(collections))
	for _, c := range collections {
		names = append(names, c.Name)
	}
	return names, nil
}

// CollectionExists reports whether a collection exists by name.
func (a *Adapter) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := a.client.GetCollection(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.GetCode(err) == errors.CodeCollectionNotFound {
		return false, nil
	}
	return false, err
}

// GetCollectionMetadata returns a collection's stored metadata.
func (a *Adapter) GetCollectionMetadata(ctx context.Context, name string) (model.Metadata, error) {
	collection, err := a.client.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	return model.Metadata(collection.Metadata), nil
}

// ModifyCollection renames a collection or replaces its metadata.
func (a *Adapter) ModifyCollection(ctx context.Context, name, newName string, metadata model.Metadata) error {
	return a.client.ModifyCollection(ctx, name, newName, metadata)
}

// Count returns the number of chunks in a collection.
func (a *Adapter) Count(ctx context.Context, name string) (int, error) {
	return a.client.Count(ctx, name)
}

// Add writes chunks to a collection. When embeddings is nil they are
// generated here; the batch is atomic on the Chroma side.
func (a *Adapter) Add(ctx context.Context, collection string, ids, texts []string, embeddings [][]float32, metadatas []model.Metadata) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(texts) || len(ids) != len(metadatas) {
		return errors.ValidationError("ids, texts, and metadatas must have equal length", nil)
	}

	if embeddings == nil {
		var err error
		embeddings, err = a.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return errors.Wrap(errors.CodeOperationFailed, err)
		}
	}

	return a.client.Add(ctx, collection, ids, texts, embeddings, toRawMetadatas(metadatas))
}

// UpdateMetadata rewrites the metadata of existing chunks.
func (a *Adapter) UpdateMetadata(ctx context.Context, collection string, ids []string, metadatas []model.Metadata) error {
	if len(ids) == 0 {
		return nil
	}
	return a.client.Update(ctx, collection, ids, nil, toRawMetadatas(metadatas))
}

// Delete removes chunks by id. Deleting zero ids is a no-op.
func (a *Adapter) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return a.client.Delete(ctx, collection, ids)
}

// GetByIDs retrieves specific chunks.
func (a *Adapter) GetByIDs(ctx context.Context, collection string, ids []string) ([]model.ChunkRecord, error) {
	resp, err := a.client.Get(ctx, collection, ids, nil, nil, 0, 0, false)
	if err != nil {
		return nil, err
	}
	return resp.Records(), nil
}

// GetAll enumerates every chunk in a collection, paging through the store.
func (a *Adapter) GetAll(ctx context.Context, collection string, includeEmbeddings bool) ([]model.ChunkRecord, error) {
	var all []model.ChunkRecord
	offset := 0

	for {
		resp, err := a.client.Get(ctx, collection, nil, nil, nil, getAllPageSize, offset, includeEmbeddings)
		if err != nil {
			return nil, err
		}

		page := resp.Records()
		all = append(all, page...)
		if len(page) < getAllPageSize {
			return all, nil
		}
		offset += len(page)
	}
}

// QueryByMetadata retrieves chunks matching a metadata filter. The engine
// uses the equality/conjunction subset; the façade passes richer filters
// through after validation.
func (a *Adapter) QueryByMetadata(ctx context.Context, collection string, where map[string]any) ([]model.ChunkRecord, error) {
	resp, err := a.client.Get(ctx, collection, nil, where, nil, 0, 0, false)
	if err != nil {
		return nil, err
	}
	return resp.Records(), nil
}

// GetFiltered retrieves chunks with full filter, limit, and offset control.
func (a *Adapter) GetFiltered(ctx context.Context, collection string, where, whereDocument map[string]any, limit, offset int) ([]model.ChunkRecord, error) {
	resp, err := a.client.Get(ctx, collection, nil, where, whereDocument, limit, offset, false)
	if err != nil {
		return nil, err
	}
	return resp.Records(), nil
}

// QueryText embeds the query texts and runs a similarity search.
func (a *Adapter) QueryText(ctx context.Context, collection string, queryTexts []string, nResults int, where, whereDocument map[string]any) (*QueryResponse, error) {
	embeddings, err := a.embedder.EmbedBatch(ctx, queryTexts)
	if err != nil {
		return nil, errors.Wrap(errors.CodeOperationFailed, err)
	}
	if nResults <= 0 {
		nResults = 10
	}
	return a.client.Query(ctx, collection, embeddings, nResults, where, whereDocument)
}

// CopyCollection duplicates a collection's chunks into a new collection,
// carrying embeddings over so nothing is re-embedded. Used when checkout
// creates a branch from the current one.
func (a *Adapter) CopyCollection(ctx context.Context, source, target string) error {
	sourceMeta, err := a.GetCollectionMetadata(ctx, source)
	if err != nil {
		return err
	}

	if err := a.CreateCollection(ctx, target, sourceMeta); err != nil {
		return err
	}

	records, err := a.GetAll(ctx, source, true)
	if err != nil {
		return err
	}

	for start := 0; start < len(records); start += getAllPageSize {
		end := start + getAllPageSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		embeddings := make([][]float32, len(batch))
		metadatas := make([]map[string]any, len(batch))
		for i, rec := range batch {
			ids[i] = rec.ID
			texts[i] = rec.Text
			embeddings[i] = rec.Embedding
			metadatas[i] = rec.Metadata
		}

		if err := a.client.Add(ctx, target, ids, texts, embeddings, metadatas); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the HTTP client and the embedder.
func (a *Adapter) Close() error {
	a.client.Close()
	return a.embedder.Close()
}

func toRawMetadatas(metadatas []model.Metadata) []map[string]any {
	if metadatas == nil {
		return nil
	}
	raw := make([]map[string]any, len(metadatas))
	for i, md := range metadatas {
		raw[i] = md
	}
	return raw
}
