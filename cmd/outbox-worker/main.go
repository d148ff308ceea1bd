// outbox-worker drains pending index-synchronization jobs as a
// standalone process, for deployments running the service with
// SYNC_MODE=external-worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnemon-ai/mnemon/internal/chunk"
	"github.com/mnemon-ai/mnemon/internal/config"
	"github.com/mnemon-ai/mnemon/internal/factory"
	"github.com/mnemon-ai/mnemon/internal/indexsync"
	"github.com/mnemon-ai/mnemon/internal/logger"
	"github.com/mnemon-ai/mnemon/internal/outbox"
)

func main() {
	log := logger.New("outbox-worker")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store")
	}

	idx, err := factory.NewSearchIndex(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("search index")
	}

	emb, err := factory.NewEmbeddingProvider(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("embedder")
	}

	sync := indexsync.New(emb, idx, chunk.Policy{MaxMessages: cfg.ChunkMaxMessages, MaxChars: cfg.ChunkMaxChars}, log)
	w := outbox.NewWorker(st, sync, outbox.Config{
		BatchSize:   cfg.OutboxBatchSize,
		Interval:    time.Duration(cfg.OutboxIntervalSeconds) * time.Second,
		MaxAttempts: cfg.OutboxMaxAttempts,
	}, log)

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("outbox worker exit")
		os.Exit(1)
	}
}
