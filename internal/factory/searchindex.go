package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnemon-ai/mnemon/internal/config"
	"github.com/mnemon-ai/mnemon/internal/searchindex"
)

// NewSearchIndex creates a vector index based on config. Weaviate
// schema bootstrap runs async with a short timeout so a slow index
// does not stall startup; chromem is embedded and needs none.
func NewSearchIndex(ctx context.Context, cfg *config.Config, log zerolog.Logger) (searchindex.Index, error) {
	switch cfg.VectorStore {
	case "weaviate":
		if cfg.WeaviateURL == "" {
			return nil, fmt.Errorf("MNEMON_WEAVIATE_URL is required when VECTOR_STORE=weaviate")
		}
		idx, err := searchindex.NewWeaviateIndex(cfg.WeaviateURL)
		if err != nil {
			return nil, err
		}
		go func() {
			bootstrapCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := searchindex.BootstrapWeaviate(bootstrapCtx, cfg.WeaviateURL); err != nil {
				log.Warn().Err(err).Str("url", cfg.WeaviateURL).Msg("search index bootstrap failed")
			} else {
				log.Debug().Str("url", cfg.WeaviateURL).Msg("search index bootstrap completed")
			}
		}()
		return idx, nil
	case "chromem":
		return searchindex.NewChromemIndex(), nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_STORE: %s", cfg.VectorStore)
	}
}
