package storage

import (
	"context"
	"errors"

	"github.com/vietddude/impactwatcher/internal/core/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write collides with a unique key
	ErrConflict = errors.New("conflict")
)

// CheckpointStore persists the ingestion position of one chain.
type CheckpointStore interface {
	// GetLastProcessedBlock returns the stored block and whether one exists
	GetLastProcessedBlock(ctx context.Context) (uint64, bool, error)

	// SetLastProcessedBlock stores n unless a higher block is already stored
	SetLastProcessedBlock(ctx context.Context, n uint64) error

	// ResetLastProcessedBlock stores n unconditionally (operator rewind)
	ResetLastProcessedBlock(ctx context.Context, n uint64) error

	// IsRecoveryMarked reports whether a recovery pass was left in flight
	IsRecoveryMarked(ctx context.Context) (bool, error)

	// SetRecoveryMarker sets or clears the in-flight recovery marker
	SetRecoveryMarker(ctx context.Context, on bool) error
}

// Version-gated writes below return applied=false when the stored row
// already carries an equal or newer version. That makes replays no-ops and
// lets overlapping recovery and live delivery commute per entity.

// CommunityRepository handles community storage operations
type CommunityRepository interface {
	// Create stores an off-chain community request and returns its id
	Create(ctx context.Context, c *domain.Community) (int64, error)

	// GetByContract finds the community deployed at contract
	GetByContract(ctx context.Context, contract string) (*domain.Community, error)

	// GetPendingByRequester finds the pending request created by requester
	GetPendingByRequester(ctx context.Context, requester string) (*domain.Community, error)

	// GetLatestActivatedByRequester finds the deployed community of requester
	// with the newest version
	GetLatestActivatedByRequester(ctx context.Context, requester string) (*domain.Community, error)

	// Activate sets the contract address and marks the community valid
	Activate(ctx context.Context, id int64, contract string, v domain.Version) (bool, error)

	// SetStatus updates the community status
	SetStatus(ctx context.Context, id int64, status domain.CommunityStatus, v domain.Version) (bool, error)

	// Migrate moves the community to a new contract address
	Migrate(ctx context.Context, id int64, contract string, v domain.Version) (bool, error)

	// ListDeployed returns every community that has a contract address
	ListDeployed(ctx context.Context) ([]*domain.Community, error)
}

// BeneficiaryRepository handles beneficiary storage operations
type BeneficiaryRepository interface {
	// Upsert writes the beneficiary state
	Upsert(ctx context.Context, b *domain.Beneficiary) (bool, error)

	// Get retrieves a beneficiary of a community
	Get(ctx context.Context, communityID int64, address string) (*domain.Beneficiary, error)

	// DeactivateAll marks every beneficiary of a community inactive
	DeactivateAll(ctx context.Context, communityID int64, v domain.Version) (int64, error)
}

// ManagerRepository handles manager storage operations
type ManagerRepository interface {
	// Upsert writes the manager active flag
	Upsert(ctx context.Context, m *domain.Manager) (bool, error)

	// Get retrieves a manager of a community
	Get(ctx context.Context, communityID int64, address string) (*domain.Manager, error)
}

// LoanRepository handles borrower, loan and application storage operations
type LoanRepository interface {
	// UpsertBorrower creates the borrower if absent
	UpsertBorrower(ctx context.Context, b *domain.Borrower) (bool, error)

	// UpsertLoan writes a loan as offered on-chain
	UpsertLoan(ctx context.Context, l *domain.Loan) (bool, error)

	// GetLoan retrieves a loan
	GetLoan(ctx context.Context, borrower string, loanID uint64) (*domain.Loan, error)

	// UpdateLoan writes status and debt fields of an existing loan.
	// Returns ErrNotFound if the loan does not exist.
	UpdateLoan(ctx context.Context, l *domain.Loan) (bool, error)

	// CreateApplication stores an off-chain loan application
	CreateApplication(ctx context.Context, a *domain.LoanApplication) (int64, error)

	// ApprovePendingApplication approves the borrower's pending application
	ApprovePendingApplication(ctx context.Context, borrower string, v domain.Version) (bool, error)
}

// Repositories groups the persistence collaborator's repositories.
type Repositories struct {
	Communities   CommunityRepository
	Beneficiaries BeneficiaryRepository
	Managers      ManagerRepository
	Loans         LoanRepository
}
