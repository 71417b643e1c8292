package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/infra/storage"
)

// BeneficiaryRepo implements storage.BeneficiaryRepository using PostgreSQL.
type BeneficiaryRepo struct {
	db *DB
}

func NewBeneficiaryRepo(db *DB) *BeneficiaryRepo {
	return &BeneficiaryRepo{db: db}
}

// Upsert writes the beneficiary unless the stored row is at an equal or newer
// version.
func (r *BeneficiaryRepo) Upsert(ctx context.Context, b *domain.Beneficiary) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO beneficiaries (community_id, address, state, version_block, version_index)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (community_id, address) DO UPDATE
		SET state = EXCLUDED.state,
			version_block = EXCLUDED.version_block,
			version_index = EXCLUDED.version_index,
			updated_at = NOW()
		WHERE (beneficiaries.version_block, beneficiaries.version_index)
			< (EXCLUDED.version_block, EXCLUDED.version_index)`,
		b.CommunityID, b.Address, string(b.State), int64(b.Version.Block), int64(b.Version.Index),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert beneficiary: %w", mapError(err))
	}
	return applied(res)
}

func (r *BeneficiaryRepo) Get(ctx context.Context, communityID int64, address string) (*domain.Beneficiary, error) {
	var row struct {
		State        string    `db:"state"`
		VersionBlock int64     `db:"version_block"`
		VersionIndex int64     `db:"version_index"`
		UpdatedAt    time.Time `db:"updated_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT state, version_block, version_index, updated_at
		FROM beneficiaries WHERE community_id = $1 AND address = $2`, communityID, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get beneficiary: %w", err)
	}
	return &domain.Beneficiary{
		CommunityID: communityID,
		Address:     address,
		State:       domain.BeneficiaryState(row.State),
		Version:     domain.Version{Block: uint64(row.VersionBlock), Index: uint(row.VersionIndex)},
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

func (r *BeneficiaryRepo) DeactivateAll(ctx context.Context, communityID int64, v domain.Version) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE beneficiaries
		SET state = 'inactive', version_block = $2, version_index = $3, updated_at = NOW()
		WHERE community_id = $1 AND state <> 'inactive'
			AND (version_block, version_index) < ($2, $3)`,
		communityID, int64(v.Block), int64(v.Index),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate beneficiaries: %w", err)
	}
	return res.RowsAffected()
}

// ManagerRepo implements storage.ManagerRepository using PostgreSQL.
type ManagerRepo struct {
	db *DB
}

func NewManagerRepo(db *DB) *ManagerRepo {
	return &ManagerRepo{db: db}
}

func (r *ManagerRepo) Upsert(ctx context.Context, m *domain.Manager) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO managers (community_id, address, active, version_block, version_index)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (community_id, address) DO UPDATE
		SET active = EXCLUDED.active,
			version_block = EXCLUDED.version_block,
			version_index = EXCLUDED.version_index,
			updated_at = NOW()
		WHERE (managers.version_block, managers.version_index)
			< (EXCLUDED.version_block, EXCLUDED.version_index)`,
		m.CommunityID, m.Address, m.Active, int64(m.Version.Block), int64(m.Version.Index),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert manager: %w", mapError(err))
	}
	return applied(res)
}

func (r *ManagerRepo) Get(ctx context.Context, communityID int64, address string) (*domain.Manager, error) {
	var row struct {
		Active       bool      `db:"active"`
		VersionBlock int64     `db:"version_block"`
		VersionIndex int64     `db:"version_index"`
		UpdatedAt    time.Time `db:"updated_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT active, version_block, version_index, updated_at
		FROM managers WHERE community_id = $1 AND address = $2`, communityID, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get manager: %w", err)
	}
	return &domain.Manager{
		CommunityID: communityID,
		Address:     address,
		Active:      row.Active,
		Version:     domain.Version{Block: uint64(row.VersionBlock), Index: uint(row.VersionIndex)},
		UpdatedAt:   row.UpdatedAt,
	}, nil
}
