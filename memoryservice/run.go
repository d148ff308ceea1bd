// Package memoryservice wires configuration, storage, the vector
// index, the embedder, and the HTTP surface into one runnable service.
package memoryservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/mnemon-ai/mnemon/internal/api"
	"github.com/mnemon-ai/mnemon/internal/api/recovery"
	"github.com/mnemon-ai/mnemon/internal/auth"
	"github.com/mnemon-ai/mnemon/internal/chunk"
	"github.com/mnemon-ai/mnemon/internal/config"
	emb "github.com/mnemon-ai/mnemon/internal/embeddings"
	"github.com/mnemon-ai/mnemon/internal/factory"
	"github.com/mnemon-ai/mnemon/internal/health"
	"github.com/mnemon-ai/mnemon/internal/indexsync"
	"github.com/mnemon-ai/mnemon/internal/logger"
	"github.com/mnemon-ai/mnemon/internal/outbox"
	"github.com/mnemon-ai/mnemon/internal/searchindex"
	"github.com/mnemon-ai/mnemon/internal/services"
	"github.com/mnemon-ai/mnemon/internal/store"
)

// Run starts the memory service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("memory-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("vector_store", cfg.VectorStore).
		Int("http_port", cfg.HTTPPort).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Str("sync_mode", cfg.SyncMode).
		Msg("Memory service starting")

	ctx, stop := newServerContext()
	defer stop()

	st, idx, embedProvider, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}

	router := buildRouter(st, idx, embedProvider, cfg, log)

	svcHealth := startHealthCheckers(ctx, cfg, log, st, idx, embedProvider)

	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Err(err).Msg("startup health check failed")
		return err
	}

	// Inline worker drains the outbox in-process; external-worker mode
	// leaves draining to the outbox-worker binary.
	if cfg.SyncMode == "inline-worker" {
		sync := indexsync.New(embedProvider, idx, chunk.Policy{MaxMessages: cfg.ChunkMaxMessages, MaxChars: cfg.ChunkMaxChars}, log)
		w := outbox.NewWorker(st, sync, outbox.Config{
			BatchSize:   cfg.OutboxBatchSize,
			Interval:    time.Duration(cfg.OutboxIntervalSeconds) * time.Second,
			MaxAttempts: cfg.OutboxMaxAttempts,
		}, log)
		go func() { _ = w.Run(ctx) }()
	}

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		return err
	}
}

// initDependencies constructs required components and enforces fail-fast on missing deps.
func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, searchindex.Index, emb.Provider, error) {
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Store adapter unavailable")
		return nil, nil, nil, err
	}

	idx, err := factory.NewSearchIndex(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Search index adapter unavailable")
		return nil, nil, nil, err
	}

	embProvider, err := factory.NewEmbeddingProvider(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Embedding provider unavailable")
		return nil, nil, nil, err
	}
	return st, idx, embProvider, nil
}

// buildRouter wires HTTP routes to handlers.
func buildRouter(st store.Store, idx searchindex.Index, embProvider emb.Provider, cfg *config.Config, log zerolog.Logger) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware)

	authorizer := auth.NewStaticAuthorizer()

	// Conversation log
	convSvc := services.NewConversationService(st, log)
	conv := api.NewConversationHandler(convSvc, authorizer)
	root.HandleFunc("/api/sessions", conv.CreateSession).Methods("POST")
	root.HandleFunc("/api/sessions", conv.ListSessions).Methods("GET")
	root.HandleFunc("/api/sessions/{sessionId}", conv.DeleteSession).Methods("DELETE")
	root.HandleFunc("/api/sessions/{sessionId}/messages", conv.GetSessionHistory).Methods("GET")
	root.HandleFunc("/api/messages", conv.StoreMessage).Methods("POST")
	root.HandleFunc("/api/messages", conv.GetUserHistory).Methods("GET")
	root.HandleFunc("/api/messages/{messageId:[0-9]+}", conv.GetMessage).Methods("GET")
	root.HandleFunc("/api/stats", conv.GetStats).Methods("GET")

	// Retrieval
	retriever := services.NewRetrieverService(embProvider, idx, st, cfg.SearchAlpha, log)
	search := api.NewSearchHandler(retriever, authorizer)
	root.HandleFunc("/api/search", search.HandleSearch).Methods("POST")
	root.HandleFunc("/api/context", search.HandleContext).Methods("POST")

	// Health
	healthHandler := api.NewHealthHandler()
	root.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	return root
}

// startHealthCheckers starts component checkers and the service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, idx searchindex.Index, embProvider emb.Provider) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	deps := []struct {
		name string
		v    interface{}
	}{
		{"store", st},
		{"searchindex", idx},
		{"embedder", embProvider},
	}
	checkers := make([]health.Checker, 0, len(deps))
	for _, d := range deps {
		if p, ok := d.v.(health.Pinger); ok {
			checkers = append(checkers, health.NewPingChecker(d.name, p, log, probeTimeout))
		}
	}
	for _, c := range checkers {
		go c.Start(ctx, interval)
	}

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	api.BindServiceHealth(svcHealth.IsHealthy)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health window in
// seconds: interval*2 with a minimum of 60.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
