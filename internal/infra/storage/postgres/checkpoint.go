package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vietddude/impactwatcher/internal/core/domain"
)

// NewPool opens a pgx pool for the checkpoint table.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// CheckpointStore keeps one row per chain in the checkpoints table.
type CheckpointStore struct {
	pool    *pgxpool.Pool
	chainID string
}

func NewCheckpointStore(pool *pgxpool.Pool, chainID domain.ChainID) *CheckpointStore {
	return &CheckpointStore{pool: pool, chainID: string(chainID)}
}

func (s *CheckpointStore) GetLastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	var block *int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_processed_block FROM checkpoints WHERE chain_id = $1`, s.chainID,
	).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if block == nil {
		return 0, false, nil
	}
	return uint64(*block), true, nil
}

// SetLastProcessedBlock never lowers the stored block.
func (s *CheckpointStore) SetLastProcessedBlock(ctx context.Context, n uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (chain_id, last_processed_block) VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = NOW()
		WHERE checkpoints.last_processed_block IS NULL
			OR checkpoints.last_processed_block < EXCLUDED.last_processed_block`,
		s.chainID, int64(n))
	if err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) ResetLastProcessedBlock(ctx context.Context, n uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (chain_id, last_processed_block) VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = NOW()`,
		s.chainID, int64(n))
	if err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) IsRecoveryMarked(ctx context.Context) (bool, error) {
	var marked bool
	err := s.pool.QueryRow(ctx,
		`SELECT recovery_marker FROM checkpoints WHERE chain_id = $1`, s.chainID,
	).Scan(&marked)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get recovery marker: %w", err)
	}
	return marked, nil
}

func (s *CheckpointStore) SetRecoveryMarker(ctx context.Context, on bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (chain_id, recovery_marker) VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE
		SET recovery_marker = EXCLUDED.recovery_marker, updated_at = NOW()`,
		s.chainID, on)
	if err != nil {
		return fmt.Errorf("failed to set recovery marker: %w", err)
	}
	return nil
}
