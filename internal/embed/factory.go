package embed

import (
	"context"
	"fmt"

	"github.com/vmrag/vmrag/internal/config"
)

// NewFromConfig builds the configured embedder and wraps it with the LRU
// cache. Unknown providers are rejected rather than silently falling back,
// because the model name is recorded in sync state and compared on checkout.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingsConfig) (Embedder, error) {
	var inner Embedder

	switch cfg.Provider {
	case "ollama":
		ocfg := DefaultOllamaConfig()
		if cfg.OllamaHost != "" {
			ocfg.Host = cfg.OllamaHost
		}
		if cfg.Model != "" {
			ocfg.Model = cfg.Model
		}
		ocfg.Dimensions = cfg.Dimensions
		if cfg.BatchSize > 0 {
			ocfg.BatchSize = cfg.BatchSize
		}

		embedder, err := NewOllamaEmbedder(ctx, ocfg)
		if err != nil {
			return nil, fmt.Errorf("ollama embedder: %w", err)
		}
		inner = embedder

	case "static":
		inner = NewStaticEmbedder()

	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}

	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
