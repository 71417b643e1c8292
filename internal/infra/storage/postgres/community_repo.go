package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/infra/storage"
)

type communityRow struct {
	ID               int64          `db:"id"`
	RequestByAddress string         `db:"request_by_address"`
	ContractAddress  sql.NullString `db:"contract_address"`
	PreviousContract sql.NullString `db:"previous_contract_address"`
	Status           string         `db:"status"`
	Public           bool           `db:"public"`
	VersionBlock     int64          `db:"version_block"`
	VersionIndex     int64          `db:"version_index"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r communityRow) toDomain() *domain.Community {
	return &domain.Community{
		ID:                      r.ID,
		RequestByAddress:        r.RequestByAddress,
		ContractAddress:         r.ContractAddress.String,
		PreviousContractAddress: r.PreviousContract.String,
		Status:                  domain.CommunityStatus(r.Status),
		Public:                  r.Public,
		Version:                 domain.Version{Block: uint64(r.VersionBlock), Index: uint(r.VersionIndex)},
		UpdatedAt:               r.UpdatedAt,
	}
}

const communityColumns = `id, request_by_address, contract_address, previous_contract_address, status, public, version_block, version_index, updated_at`

// CommunityRepo implements storage.CommunityRepository using PostgreSQL.
type CommunityRepo struct {
	db *DB
}

func NewCommunityRepo(db *DB) *CommunityRepo {
	return &CommunityRepo{db: db}
}

func (r *CommunityRepo) Create(ctx context.Context, c *domain.Community) (int64, error) {
	status := c.Status
	if status == "" {
		status = domain.CommunityStatusPending
	}

	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO communities (request_by_address, contract_address, status, public, version_block, version_index)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		RETURNING id`,
		c.RequestByAddress, c.ContractAddress, string(status), c.Public,
		int64(c.Version.Block), int64(c.Version.Index),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create community: %w", mapError(err))
	}
	return id, nil
}

func (r *CommunityRepo) GetByContract(ctx context.Context, contract string) (*domain.Community, error) {
	return r.getOne(ctx, `SELECT `+communityColumns+` FROM communities WHERE contract_address = $1`, contract)
}

// GetPendingByRequester returns the oldest pending request of requester.
func (r *CommunityRepo) GetPendingByRequester(ctx context.Context, requester string) (*domain.Community, error) {
	return r.getOne(ctx, `
		SELECT `+communityColumns+` FROM communities
		WHERE request_by_address = $1 AND status = 'pending'
		ORDER BY id LIMIT 1`, requester)
}

func (r *CommunityRepo) GetLatestActivatedByRequester(ctx context.Context, requester string) (*domain.Community, error) {
	return r.getOne(ctx, `
		SELECT `+communityColumns+` FROM communities
		WHERE request_by_address = $1 AND contract_address IS NOT NULL
		ORDER BY version_block DESC, version_index DESC LIMIT 1`, requester)
}

func (r *CommunityRepo) getOne(ctx context.Context, query string, args ...any) (*domain.Community, error) {
	var row communityRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get community: %w", err)
	}
	return row.toDomain(), nil
}

func (r *CommunityRepo) Activate(ctx context.Context, id int64, contract string, v domain.Version) (bool, error) {
	return r.update(ctx, id, v, `contract_address = $4, status = 'valid'`, contract)
}

func (r *CommunityRepo) SetStatus(ctx context.Context, id int64, status domain.CommunityStatus, v domain.Version) (bool, error) {
	return r.update(ctx, id, v, `status = $4`, string(status))
}

// Migrate keeps the replaced contract in previous_contract_address so it can
// be re-registered after a restart.
func (r *CommunityRepo) Migrate(ctx context.Context, id int64, contract string, v domain.Version) (bool, error) {
	return r.update(ctx, id, v,
		`previous_contract_address = contract_address, contract_address = $4, status = 'valid'`, contract)
}

// update applies set only when v is newer than the stored version. A missing
// row is reported as ErrNotFound, a stale version as applied=false.
func (r *CommunityRepo) update(ctx context.Context, id int64, v domain.Version, set string, arg any) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE communities
		SET `+set+`, version_block = $2, version_index = $3, updated_at = NOW()
		WHERE id = $1 AND (version_block, version_index) < ($2, $3)`,
		id, int64(v.Block), int64(v.Index), arg,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update community %d: %w", id, mapError(err))
	}
	ok, err := applied(res)
	if err != nil || ok {
		return ok, err
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM communities WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check community %d: %w", id, err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

// ListDeployed returns communities that have a contract, live or removed.
func (r *CommunityRepo) ListDeployed(ctx context.Context) ([]*domain.Community, error) {
	statuses := []string{string(domain.CommunityStatusValid), string(domain.CommunityStatusRemoved)}

	var rows []communityRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+communityColumns+` FROM communities
		WHERE contract_address IS NOT NULL AND status = ANY($1)
		ORDER BY id`, pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("failed to list communities: %w", err)
	}

	out := make([]*domain.Community, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
