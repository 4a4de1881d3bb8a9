package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOllama serves /api/tags and /api/embed with canned vectors.
func fakeOllama(t *testing.T, dims int, failures *atomic.Int32) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]any{{"name": "nomic-embed-text:latest"}},
			})
		case "/api/embed":
			if failures != nil && failures.Add(-1) >= 0 {
				http.Error(w, "model loading", http.StatusInternalServerError)
				return
			}

			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			n := 1
			if arr, ok := req.Input.([]any); ok {
				n = len(arr)
			}

			embeddings := make([][]float64, n)
			for i := range embeddings {
				vec := make([]float64, dims)
				vec[0] = 3
				vec[1] = 4
				embeddings[i] = vec
			}
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{
				Model:      "nomic-embed-text",
				Embeddings: embeddings,
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaEmbedder_DetectsDimensions(t *testing.T) {
	srv := fakeOllama(t, 8, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, 8, e.Dimensions())
	assert.Equal(t, "nomic-embed-text", e.ModelName())
}

func TestOllamaEmbedder_MissingModelFailsHealthCheck(t *testing.T) {
	srv := fakeOllama(t, 8, nil)
	defer srv.Close()

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "no-such-model",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not installed")
}

func TestOllamaEmbedder_EmbedNormalizes(t *testing.T) {
	srv := fakeOllama(t, 4, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "some text")
	require.NoError(t, err)
	require.Len(t, vec, 4)

	// Raw (3,4,0,0) normalizes to (0.6, 0.8, 0, 0).
	assert.InDelta(t, 0.6, vec[0], 1e-5)
	assert.InDelta(t, 0.8, vec[1], 1e-5)
}

func TestOllamaEmbedder_EmptyTextSkipsAPI(t *testing.T) {
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            "http://127.0.0.1:1", // unreachable on purpose
		Model:           "nomic-embed-text",
		Dimensions:      16,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
}

func TestOllamaEmbedder_RetriesTransientFailures(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2) // first two /api/embed calls fail

	srv := fakeOllama(t, 4, &failures)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Model:           "nomic-embed-text",
		Dimensions:      4,
		MaxRetries:      3,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestOllamaEmbedder_EmbedBatchPreservesOrder(t *testing.T) {
	srv := fakeOllama(t, 4, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Model:           "nomic-embed-text",
		Dimensions:      4,
		BatchSize:       2,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	// Index 1 was empty and never left the process.
	for _, v := range vecs[1] {
		assert.Zero(t, v)
	}
	assert.NotZero(t, vecs[0][0])
	assert.NotZero(t, vecs[3][0])
}

func TestOllamaEmbedder_ContextCancellation(t *testing.T) {
	srv := fakeOllama(t, 4, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Model:           "nomic-embed-text",
		Dimensions:      4,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Embed(ctx, "never sent")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOllamaEmbedder_ClosedRejectsCalls(t *testing.T) {
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            "http://127.0.0.1:1",
		Model:           "m",
		Dimensions:      4,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "x")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}
