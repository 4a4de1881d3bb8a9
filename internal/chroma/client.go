// Package chroma is the vector-store adapter. It talks to ChromaDB's v2
// REST API over plain HTTP; the official Go client has compatibility issues
// with the v2 tenant/database routes, so requests are built directly.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vmrag/vmrag/internal/errors"
	"github.com/vmrag/vmrag/internal/model"
)

// Config holds ChromaDB connection settings.
type Config struct {
	Host     string
	Port     int
	Tenant   string // default: "default_tenant"
	Database string // default: "default_database"
	Timeout  time.Duration
}

// Collection is a ChromaDB collection as returned by the API.
type Collection struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

// GetResponse is the parallel-array shape of a /get response.
type GetResponse struct {
	IDs        []string         `json:"ids"`
	Documents  []string         `json:"documents"`
	Metadatas  []map[string]any `json:"metadatas"`
	Embeddings [][]float32      `json:"embeddings,omitempty"`
}

// QueryResponse is the nested parallel-array shape of a /query response.
type QueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]string         `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float32        `json:"distances"`
}

// Client wraps HTTP calls to the ChromaDB v2 API, scoped to one
// tenant/database pair.
type Client struct {
	baseURL    string
	serverURL  string
	httpClient *http.Client
}

// NewClient creates a client for the given tenant and database.
func NewClient(config Config) *Client {
	if config.Tenant == "" {
		config.Tenant = "default_tenant"
	}
	if config.Database == "" {
		config.Database = "default_database"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	serverURL := fmt.Sprintf("http://%s:%d", config.Host, config.Port)
	baseURL := fmt.Sprintf("%s/api/v2/tenants/%s/databases/%s",
		serverURL, config.Tenant, config.Database)

	return &Client{
		baseURL:   baseURL,
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// doJSON issues one request and decodes the response into out when non-nil.
// Non-2xx statuses become coded errors via mapHTTPError.
func (c *Client) doJSON(ctx context.Context, method, url string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.OperationError("failed to marshal request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.OperationError("failed to create request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.OperationError(fmt.Sprintf("vector store request failed: %v", err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return mapHTTPError(resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.OperationError("failed to decode vector store response", err)
		}
	}
	return nil
}

// mapHTTPError classifies a Chroma error response.
func mapHTTPError(status int, body string) *errors.SyncError {
	lower := strings.ToLower(body)

	switch {
	case status == http.StatusNotFound,
		strings.Contains(lower, "does not exist"):
		return errors.Newf(errors.CodeCollectionNotFound,
			"collection not found: %s", firstLine(body))
	case status == http.StatusConflict,
		strings.Contains(lower, "already exists"):
		return errors.Newf(errors.CodeCollectionExists,
			"collection already exists: %s", firstLine(body))
	case strings.Contains(lower, "duplicate"),
		strings.Contains(lower, "existing embedding id"):
		return errors.Newf(errors.CodeDuplicateID,
			"duplicate document id: %s", firstLine(body))
	}

	return errors.Newf(errors.CodeOperationFailed,
		"vector store error (status %d): %s", status, firstLine(body))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Heartbeat checks that the server is alive. Heartbeat lives above the
// tenant scope.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, c.serverURL+"/api/v2/heartbeat", nil, nil)
}

// ListCollections returns all collections in the database.
func (c *Client) ListCollections(ctx context.Context) ([]Collection, error) {
	var collections []Collection
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/collections", nil, &collections)
	if err != nil {
		return nil, err
	}
	return collections, nil
}

// CreateCollection creates a collection with cosine distance by default.
func (c *Client) CreateCollection(ctx context.Context, name string, metadata map[string]any) (*Collection, error) {
	if metadata == nil {
		metadata = map[string]any{"hnsw:space": "cosine"}
	}

	var collection Collection
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/collections", map[string]any{
		"name":     name,
		"metadata": metadata,
	}, &collection)
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

// GetCollection retrieves a collection by name.
func (c *Client) GetCollection(ctx context.Context, name string) (*Collection, error) {
	var collection Collection
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/collections/"+name, nil, &collection)
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

// DeleteCollection deletes a collection by name.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, c.baseURL+"/collections/"+name, nil, nil)
}

// Count returns the number of chunks in a collection.
func (c *Client) Count(ctx context.Context, name string) (int, error) {
	collection, err := c.GetCollection(ctx, name)
	if err != nil {
		return 0, err
	}

	var count int
	url := fmt.Sprintf("%s/collections/%s/count", c.baseURL, collection.ID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Add writes a batch of chunks. Chroma applies the batch atomically.
func (c *Client) Add(ctx context.Context, collectionName string, ids, documents []string, embeddings [][]float32, metadatas []map[string]any) error {
	collection, err := c.GetCollection(ctx, collectionName)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"ids":        ids,
		"documents":  documents,
		"embeddings": embeddings,
	}
	if metadatas != nil {
		payload["metadatas"] = metadatas
	}

	url := fmt.Sprintf("%s/collections/%s/add", c.baseURL, collection.ID)
	return c.doJSON(ctx, http.MethodPost, url, payload, nil)
}

// Update rewrites metadata (and optionally documents) for existing ids.
func (c *Client) Update(ctx context.Context, collectionName string, ids []string, documents []string, metadatas []map[string]any) error {
	collection, err := c.GetCollection(ctx, collectionName)
	if err != nil {
		return err
	}

	payload := map[string]any{"ids": ids}
	if documents != nil {
		payload["documents"] = documents
	}
	if metadatas != nil {
		payload["metadatas"] = metadatas
	}

	url := fmt.Sprintf("%s/collections/%s/update", c.baseURL, collection.ID)
	return c.doJSON(ctx, http.MethodPost, url, payload, nil)
}

// Delete removes chunks by id.
func (c *Client) Delete(ctx context.Context, collectionName string, ids []string) error {
	collection, err := c.GetCollection(ctx, collectionName)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/collections/%s/delete", c.baseURL, collection.ID)
	return c.doJSON(ctx, http.MethodPost, url, map[string]any{"ids": ids}, nil)
}

// Get retrieves chunks by ids and/or metadata filter. A zero limit fetches
// everything in one page.
func (c *Client) Get(ctx context.Context, collectionName string, ids []string, where map[string]any, whereDocument map[string]any, limit, offset int, includeEmbeddings bool) (*GetResponse, error) {
	collection, err := c.GetCollection(ctx, collectionName)
	if err != nil {
		return nil, err
	}

	include := []string{"documents", "metadatas"}
	if includeEmbeddings {
		include = append(include, "embeddings")
	}

	payload := map[string]any{"include": include}
	if len(ids) > 0 {
		payload["ids"] = ids
	}
	if len(where) > 0 {
		payload["where"] = where
	}
	if len(whereDocument) > 0 {
		payload["where_document"] = whereDocument
	}
	if limit > 0 {
		payload["limit"] = limit
	}
	if offset > 0 {
		payload["offset"] = offset
	}

	var getResp GetResponse
	url := fmt.Sprintf("%s/collections/%s/get", c.baseURL, collection.ID)
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &getResp); err != nil {
		return nil, err
	}
	return &getResp, nil
}

// Query runs a similarity search.
func (c *Client) Query(ctx context.Context, collectionName string, queryEmbeddings [][]float32, nResults int, where, whereDocument map[string]any) (*QueryResponse, error) {
	collection, err := c.GetCollection(ctx, collectionName)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"query_embeddings": queryEmbeddings,
		"n_results":        nResults,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	if len(where) > 0 {
		payload["where"] = where
	}
	if len(whereDocument) > 0 {
		payload["where_document"] = whereDocument
	}

	var queryResp QueryResponse
	url := fmt.Sprintf("%s/collections/%s/query", c.baseURL, collection.ID)
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &queryResp); err != nil {
		return nil, err
	}
	return &queryResp, nil
}

// ModifyCollection renames a collection or replaces its metadata.
func (c *Client) ModifyCollection(ctx context.Context, name, newName string, metadata map[string]any) error {
	collection, err := c.GetCollection(ctx, name)
	if err != nil {
		return err
	}

	payload := map[string]any{}
	if newName != "" {
		payload["new_name"] = newName
	}
	if metadata != nil {
		payload["new_metadata"] = metadata
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, collection.ID)
	return c.doJSON(ctx, http.MethodPut, url, payload, nil)
}

// Close closes idle HTTP connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Records converts a GetResponse's parallel arrays into chunk records.
func (r *GetResponse) Records() []model.ChunkRecord {
	records := make([]model.ChunkRecord, len(r.IDs))
	for i, id := range r.IDs {
		rec := model.ChunkRecord{ID: id}
		if i < len(r.Documents) {
			rec.Text = r.Documents[i]
		}
		if i < len(r.Metadatas) {
			rec.Metadata = model.Metadata(r.Metadatas[i])
		}
		if i < len(r.Embeddings) {
			rec.Embedding = r.Embeddings[i]
		}
		records[i] = rec
	}
	return records
}
