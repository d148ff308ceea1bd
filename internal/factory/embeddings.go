package factory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnemon-ai/mnemon/internal/config"
	emb "github.com/mnemon-ai/mnemon/internal/embeddings"
	"github.com/mnemon-ai/mnemon/internal/embeddings/ollama"
)

// NewEmbeddingProvider creates the embedding provider wrapped in the
// vector cache. Warmup runs async; a cold model only delays the first
// real embed, never startup.
func NewEmbeddingProvider(ctx context.Context, cfg *config.Config, log zerolog.Logger) (emb.Provider, error) {
	var provider emb.Provider
	switch cfg.EmbedProvider {
	case "", "ollama":
		provider = ollama.New(cfg.OllamaURL, cfg.EmbedModel)
	default:
		log.Warn().Str("provider", cfg.EmbedProvider).Msg("unknown embedding provider; using ollama")
		provider = ollama.New(cfg.OllamaURL, cfg.EmbedModel)
	}

	cached, err := emb.NewCached(provider, cfg.EmbedCacheItems)
	if err != nil {
		return nil, err
	}

	go func() {
		warmupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if vec, err := provider.Embed(warmupCtx, "warmup-check"); err != nil || len(vec) == 0 {
			log.Warn().Err(err).Str("model", cfg.EmbedModel).Msg("embedding provider warmup failed")
		} else {
			log.Debug().Str("model", cfg.EmbedModel).Msg("embedding provider warmup completed")
		}
	}()

	return cached, nil
}
