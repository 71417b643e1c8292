package domain

import "time"

type CommunityStatus string

const (
	CommunityStatusPending CommunityStatus = "pending"
	CommunityStatusValid   CommunityStatus = "valid"
	CommunityStatusRemoved CommunityStatus = "removed"
)

// Community is a community request and, once deployed, its contract.
type Community struct {
	ID               int64
	RequestByAddress string
	ContractAddress  string
	// PreviousContractAddress is the contract replaced by the last migration.
	PreviousContractAddress string
	Status                  CommunityStatus
	Public                  bool
	Version                 Version
	UpdatedAt               time.Time
}

type BeneficiaryState string

const (
	BeneficiaryStateActive   BeneficiaryState = "active"
	BeneficiaryStateInactive BeneficiaryState = "inactive"
	BeneficiaryStateLocked   BeneficiaryState = "locked"
)

// Beneficiary is keyed by (CommunityID, Address).
type Beneficiary struct {
	CommunityID int64
	Address     string
	State       BeneficiaryState
	Version     Version
	UpdatedAt   time.Time
}

// Manager is keyed by (CommunityID, Address).
type Manager struct {
	CommunityID int64
	Address     string
	Active      bool
	Version     Version
	UpdatedAt   time.Time
}
