package factory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mnemon-ai/mnemon/internal/config"
	storepkg "github.com/mnemon-ai/mnemon/internal/store"
	storepg "github.com/mnemon-ai/mnemon/internal/store/postgres"
	storelite "github.com/mnemon-ai/mnemon/internal/store/sqlite"
)

// NewStore returns the configured store.Store. Postgres is
// bootstrapped synchronously: the outbox schema must exist before the
// first append commits a job row.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storepkg.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("MNEMON_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		db, err := storepg.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := storepg.Bootstrap(ctx, db); err != nil {
			return nil, fmt.Errorf("postgres bootstrap: %w", err)
		}
		log.Debug().Str("driver", cfg.DBDriver).Msg("store ready")
		return storepg.NewWithDB(db), nil
	case "sqlite":
		db, err := storelite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("driver", cfg.DBDriver).Str("path", cfg.SQLitePath).Msg("store ready")
		return storelite.NewWithDB(db), nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}
