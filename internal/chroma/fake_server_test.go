package chroma

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// fakeChroma is an in-memory stand-in for a ChromaDB v2 server.
type fakeChroma struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection // keyed by name
	nextID      int
}

type fakeCollection struct {
	id       string
	name     string
	metadata map[string]any
	chunks   map[string]fakeChunk // keyed by chunk id
	order    []string
}

type fakeChunk struct {
	text      string
	metadata  map[string]any
	embedding []float32
}

func newFakeChroma() *fakeChroma {
	return &fakeChroma{collections: map[string]*fakeCollection{}}
}

func (f *fakeChroma) server() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(f.handle))
}

func (f *fakeChroma) byID(id string) *fakeCollection {
	for _, c := range f.collections {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (f *fakeChroma) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	if path == "/api/v2/heartbeat" {
		_ = json.NewEncoder(w).Encode(map[string]any{"nanosecond heartbeat": 1})
		return
	}

	const prefix = "/api/v2/tenants/default_tenant/databases/default_database/collections"
	if !strings.HasPrefix(path, prefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimPrefix(rest, "/")

	switch {
	case rest == "" && r.Method == http.MethodGet:
		out := []map[string]any{}
		for _, c := range f.collections {
			out = append(out, map[string]any{"id": c.id, "name": c.name, "metadata": c.metadata})
		}
		_ = json.NewEncoder(w).Encode(out)

	case rest == "" && r.Method == http.MethodPost:
		var req struct {
			Name     string         `json:"name"`
			Metadata map[string]any `json:"metadata"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, exists := f.collections[req.Name]; exists {
			http.Error(w, `{"error":"collection already exists"}`, http.StatusConflict)
			return
		}
		f.nextID++
		c := &fakeCollection{
			id:       fmt.Sprintf("col-%03d", f.nextID),
			name:     req.Name,
			metadata: req.Metadata,
			chunks:   map[string]fakeChunk{},
		}
		f.collections[req.Name] = c
		_ = json.NewEncoder(w).Encode(map[string]any{"id": c.id, "name": c.name, "metadata": c.metadata})

	case !strings.Contains(rest, "/"):
		// GET/DELETE address the collection by name, PUT (modify) by id.
		switch r.Method {
		case http.MethodGet:
			c, ok := f.collections[rest]
			if !ok {
				http.Error(w, `{"error":"collection does not exist"}`, http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": c.id, "name": c.name, "metadata": c.metadata})
		case http.MethodDelete:
			if _, ok := f.collections[rest]; !ok {
				http.Error(w, `{"error":"collection does not exist"}`, http.StatusNotFound)
				return
			}
			delete(f.collections, rest)
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			c := f.byID(rest)
			if c == nil {
				http.Error(w, `{"error":"collection does not exist"}`, http.StatusNotFound)
				return
			}
			var req struct {
				NewName     string         `json:"new_name"`
				NewMetadata map[string]any `json:"new_metadata"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.NewName != "" {
				delete(f.collections, c.name)
				c.name = req.NewName
				f.collections[c.name] = c
			}
			if req.NewMetadata != nil {
				c.metadata = req.NewMetadata
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "method", http.StatusMethodNotAllowed)
		}

	default:
		parts := strings.SplitN(rest, "/", 2)
		c := f.byID(parts[0])
		if c == nil {
			http.Error(w, `{"error":"collection does not exist"}`, http.StatusNotFound)
			return
		}
		f.handleCollectionOp(w, r, c, parts[1])
	}
}

func (f *fakeChroma) handleCollectionOp(w http.ResponseWriter, r *http.Request, c *fakeCollection, op string) {
	switch op {
	case "count":
		_ = json.NewEncoder(w).Encode(len(c.chunks))

	case "add":
		var req struct {
			IDs        []string         `json:"ids"`
			Documents  []string         `json:"documents"`
			Embeddings [][]float32      `json:"embeddings"`
			Metadatas  []map[string]any `json:"metadatas"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, id := range req.IDs {
			if _, dup := c.chunks[id]; dup {
				http.Error(w, `{"error":"duplicate existing embedding ID"}`, http.StatusBadRequest)
				return
			}
		}
		for i, id := range req.IDs {
			ch := fakeChunk{}
			if i < len(req.Documents) {
				ch.text = req.Documents[i]
			}
			if i < len(req.Embeddings) {
				ch.embedding = req.Embeddings[i]
			}
			if i < len(req.Metadatas) {
				ch.metadata = req.Metadatas[i]
			}
			c.chunks[id] = ch
			c.order = append(c.order, id)
		}
		w.WriteHeader(http.StatusCreated)

	case "update":
		var req struct {
			IDs       []string         `json:"ids"`
			Documents []string         `json:"documents"`
			Metadatas []map[string]any `json:"metadatas"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for i, id := range req.IDs {
			ch, ok := c.chunks[id]
			if !ok {
				continue
			}
			if i < len(req.Documents) && req.Documents != nil {
				ch.text = req.Documents[i]
			}
			if i < len(req.Metadatas) && req.Metadatas != nil {
				ch.metadata = req.Metadatas[i]
			}
			c.chunks[id] = ch
		}
		w.WriteHeader(http.StatusOK)

	case "delete":
		var req struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, id := range req.IDs {
			delete(c.chunks, id)
		}
		kept := c.order[:0]
		for _, id := range c.order {
			if _, ok := c.chunks[id]; ok {
				kept = append(kept, id)
			}
		}
		c.order = kept
		w.WriteHeader(http.StatusOK)

	case "get":
		var req struct {
			IDs     []string       `json:"ids"`
			Where   map[string]any `json:"where"`
			Include []string       `json:"include"`
			Limit   int            `json:"limit"`
			Offset  int            `json:"offset"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		ids := req.IDs
		if ids == nil {
			ids = append([]string{}, c.order...)
		}

		resp := GetResponse{IDs: []string{}, Documents: []string{}, Metadatas: []map[string]any{}}
		includeEmb := false
		for _, inc := range req.Include {
			if inc == "embeddings" {
				includeEmb = true
			}
		}

		matched := []string{}
		for _, id := range ids {
			ch, ok := c.chunks[id]
			if !ok || !matchWhere(ch.metadata, req.Where) {
				continue
			}
			matched = append(matched, id)
		}
		if req.Offset > 0 && req.Offset < len(matched) {
			matched = matched[req.Offset:]
		} else if req.Offset >= len(matched) {
			matched = nil
		}
		if req.Limit > 0 && req.Limit < len(matched) {
			matched = matched[:req.Limit]
		}

		for _, id := range matched {
			ch := c.chunks[id]
			resp.IDs = append(resp.IDs, id)
			resp.Documents = append(resp.Documents, ch.text)
			resp.Metadatas = append(resp.Metadatas, ch.metadata)
			if includeEmb {
				resp.Embeddings = append(resp.Embeddings, ch.embedding)
			}
		}
		_ = json.NewEncoder(w).Encode(resp)

	case "query":
		var req struct {
			QueryEmbeddings [][]float32    `json:"query_embeddings"`
			NResults        int            `json:"n_results"`
			Where           map[string]any `json:"where"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		// Distance-free fake: returns chunks in insertion order.
		ids := []string{}
		docs := []string{}
		metas := []map[string]any{}
		dists := []float32{}
		for _, id := range c.order {
			if len(ids) >= req.NResults {
				break
			}
			ch := c.chunks[id]
			if !matchWhere(ch.metadata, req.Where) {
				continue
			}
			ids = append(ids, id)
			docs = append(docs, ch.text)
			metas = append(metas, ch.metadata)
			dists = append(dists, float32(len(ids))*0.1)
		}
		_ = json.NewEncoder(w).Encode(QueryResponse{
			IDs:       [][]string{ids},
			Documents: [][]string{docs},
			Metadatas: [][]map[string]any{metas},
			Distances: [][]float32{dists},
		})

	default:
		http.NotFound(w, r)
	}
}

// matchWhere supports the equality and $and subset the engine relies on.
func matchWhere(metadata, where map[string]any) bool {
	if len(where) == 0 {
		return true
	}
	for key, value := range where {
		if key == "$and" {
			clauses, _ := value.([]any)
			for _, clause := range clauses {
				sub, _ := clause.(map[string]any)
				if !matchWhere(metadata, sub) {
					return false
				}
			}
			continue
		}
		want := value
		if cond, ok := value.(map[string]any); ok {
			want = cond["$eq"]
		}
		got, ok := metadata[key]
		if !ok || !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

