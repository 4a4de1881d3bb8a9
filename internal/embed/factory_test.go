package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmrag/vmrag/internal/config"
)

func TestNewFromConfig_Static(t *testing.T) {
	e, err := NewFromConfig(context.Background(), config.EmbeddingsConfig{
		Provider:  "static",
		CacheSize: 10,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "static", e.ModelName())
	assert.Equal(t, StaticDimensions, e.Dimensions())

	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok, "factory must wrap the provider with the cache")
	_, ok = cached.Inner().(*StaticEmbedder)
	assert.True(t, ok)
}

func TestNewFromConfig_UnknownProvider(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.EmbeddingsConfig{
		Provider: "quantum",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embeddings provider")
}
