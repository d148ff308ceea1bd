package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration for the memory service.
// Environment variables are parsed from the MNEMON_ prefix,
// e.g. MNEMON_HTTP_PORT, MNEMON_POSTGRES_DSN.
type Config struct {
	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./data/mnemon.db"`

	// Vector index
	VectorStore string `envconfig:"VECTOR_STORE" default:"chromem"`
	WeaviateURL string `envconfig:"WEAVIATE_URL" default:"weaviate:8080"`

	// Embedding / search
	EmbedProvider   string  `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel      string  `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	OllamaURL       string  `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	SearchAlpha     float32 `envconfig:"SEARCH_ALPHA" default:"0.6"`
	EmbedCacheItems int64   `envconfig:"EMBED_CACHE_ITEMS" default:"4096"`

	// Chunk windowing policy. Tunable: both bounds cap a chunk, and a
	// chunk never spans more than one owner.
	ChunkMaxMessages int `envconfig:"CHUNK_MAX_MESSAGES" default:"6"`
	ChunkMaxChars    int `envconfig:"CHUNK_MAX_CHARS" default:"2000"`

	// Outbox worker
	SyncMode              string `envconfig:"SYNC_MODE" default:"inline-worker"`
	OutboxBatchSize       int    `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxIntervalSeconds int    `envconfig:"OUTBOX_INTERVAL_SECONDS" default:"2"`
	OutboxMaxAttempts     int    `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"10"`

	// Health checks
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"5"`
}

// ResolveDefaults validates driver selections.
func (c *Config) ResolveDefaults() error {
	allowedDB := map[string]bool{"postgres": true, "sqlite": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
	}
	allowedVec := map[string]bool{"weaviate": true, "chromem": true}
	if !allowedVec[c.VectorStore] {
		return fmt.Errorf("unsupported VECTOR_STORE: %s", c.VectorStore)
	}
	switch c.SyncMode {
	case "inline-worker", "external-worker":
	default:
		return fmt.Errorf("unsupported SYNC_MODE: %s", c.SyncMode)
	}
	if c.ChunkMaxMessages <= 0 || c.ChunkMaxChars <= 0 {
		return fmt.Errorf("chunk window bounds must be positive")
	}
	return nil
}

// New creates a new Config by parsing environment variables.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("MNEMON", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("db_driver", cfg.DBDriver).
		Str("vector_store", cfg.VectorStore).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Float32("search_alpha", cfg.SearchAlpha).
		Int("chunk_max_messages", cfg.ChunkMaxMessages).
		Int("chunk_max_chars", cfg.ChunkMaxChars).
		Str("sync_mode", cfg.SyncMode).
		Int("port", cfg.HTTPPort).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config suitable for unit tests: embedded
// stores and small windows so chunk boundaries are exercised.
func NewForTesting() *Config {
	return &Config{
		HTTPPort:                  8080,
		DBDriver:                  "sqlite",
		SQLitePath:                ":memory:",
		VectorStore:               "chromem",
		EmbedProvider:             "ollama",
		EmbedModel:                "mxbai-embed-large",
		OllamaURL:                 "http://localhost:11434",
		SearchAlpha:               0.6,
		EmbedCacheItems:           128,
		ChunkMaxMessages:          2,
		ChunkMaxChars:             512,
		SyncMode:                  "inline-worker",
		OutboxBatchSize:           10,
		OutboxIntervalSeconds:     1,
		OutboxMaxAttempts:         3,
		HealthIntervalSeconds:     30,
		HealthProbeTimeoutSeconds: 5,
	}
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
