package domain

import "time"

// Borrower is keyed by Address.
type Borrower struct {
	Address   string
	Version   Version
	UpdatedAt time.Time
}

type LoanStatus string

const (
	LoanStatusAdded   LoanStatus = "added"
	LoanStatusClaimed LoanStatus = "claimed"
)

// Loan is keyed by (Borrower, LoanID). Amounts are decimal strings of
// on-chain uint256 values.
type Loan struct {
	Borrower      string
	LoanID        uint64
	Amount        string
	Period        string
	DailyInterest string
	ClaimDeadline uint64
	Status        LoanStatus
	LastRepayment string
	CurrentDebt   string
	Version       Version
	UpdatedAt     time.Time
}

type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "pending"
	ApplicationStatusApproved ApplicationStatus = "approved"
)

// LoanApplication is created off-chain and approved by LoanAdded.
type LoanApplication struct {
	ID        int64
	Borrower  string
	Status    ApplicationStatus
	Version   Version
	UpdatedAt time.Time
}
