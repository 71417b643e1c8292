package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vietddude/impactwatcher/internal/core/config"
	redisclient "github.com/vietddude/impactwatcher/internal/infra/redis"
	"github.com/vietddude/impactwatcher/internal/infra/storage"
	"github.com/vietddude/impactwatcher/internal/infra/storage/memory"
	"github.com/vietddude/impactwatcher/internal/infra/storage/postgres"
)

// Backends holds the storage connections opened for one process. Fields are
// nil when the configuration does not use them.
type Backends struct {
	DB          *postgres.DB
	Pool        *pgxpool.Pool
	Redis       *redisclient.Client
	Repos       storage.Repositories
	Checkpoints storage.CheckpointStore
}

// OpenBackends connects the projection store and the checkpoint store.
// Without a database url projections live in memory.
func OpenBackends(ctx context.Context, cfg *config.AppConfig) (*Backends, error) {
	b := &Backends{}

	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		b.DB = db
		if err := db.Migrate(); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		b.Repos = db.Repositories()
		slog.Info("Using PostgreSQL storage")
	} else {
		b.Repos = memory.NewMemoryStorage().Repositories()
		slog.Info("Using Memory storage")
	}

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Redis = client
	}

	switch cfg.Checkpoint.Backend {
	case config.BackendRedis:
		if b.Redis == nil {
			b.Close()
			return nil, fmt.Errorf("redis checkpoint backend needs redis.url")
		}
		b.Checkpoints = redisclient.NewCheckpointStore(b.Redis, cfg.Checkpoint.KeyPrefix, cfg.Chain.ChainID)
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Pool = pool
		b.Checkpoints = postgres.NewCheckpointStore(pool, cfg.Chain.ChainID)
	default:
		slog.Warn("Checkpoint kept in memory, restarts will recover from genesis")
		b.Checkpoints = memory.NewCheckpointStore()
	}
	slog.Info("Checkpoint backend selected", "backend", cfg.Checkpoint.Backend)

	return b, nil
}

// Close releases every open connection.
func (b *Backends) Close() {
	if b.Pool != nil {
		b.Pool.Close()
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			slog.Warn("Failed to close Redis", "error", err)
		}
	}
	if b.DB != nil {
		if err := b.DB.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
}
