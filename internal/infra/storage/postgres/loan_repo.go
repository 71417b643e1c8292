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

// LoanRepo implements storage.LoanRepository using PostgreSQL. Token amounts
// are NUMERIC(78,0) columns exchanged as decimal strings.
type LoanRepo struct {
	db *DB
}

func NewLoanRepo(db *DB) *LoanRepo {
	return &LoanRepo{db: db}
}

func (r *LoanRepo) UpsertBorrower(ctx context.Context, b *domain.Borrower) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO borrowers (address, version_block, version_index)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO NOTHING`,
		b.Address, int64(b.Version.Block), int64(b.Version.Index),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert borrower: %w", mapError(err))
	}
	return applied(res)
}

func (r *LoanRepo) UpsertLoan(ctx context.Context, l *domain.Loan) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO loans (borrower, loan_id, amount, period, daily_interest, claim_deadline,
			status, version_block, version_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (borrower, loan_id) DO UPDATE
		SET amount = EXCLUDED.amount,
			period = EXCLUDED.period,
			daily_interest = EXCLUDED.daily_interest,
			claim_deadline = EXCLUDED.claim_deadline,
			status = EXCLUDED.status,
			version_block = EXCLUDED.version_block,
			version_index = EXCLUDED.version_index,
			updated_at = NOW()
		WHERE (loans.version_block, loans.version_index)
			< (EXCLUDED.version_block, EXCLUDED.version_index)`,
		l.Borrower, int64(l.LoanID), l.Amount, l.Period, l.DailyInterest, int64(l.ClaimDeadline),
		string(l.Status), int64(l.Version.Block), int64(l.Version.Index),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert loan: %w", mapError(err))
	}
	return applied(res)
}

type loanRow struct {
	Borrower      string         `db:"borrower"`
	LoanID        int64          `db:"loan_id"`
	Amount        string         `db:"amount"`
	Period        string         `db:"period"`
	DailyInterest string         `db:"daily_interest"`
	ClaimDeadline int64          `db:"claim_deadline"`
	Status        string         `db:"status"`
	LastRepayment sql.NullString `db:"last_repayment"`
	CurrentDebt   sql.NullString `db:"current_debt"`
	VersionBlock  int64          `db:"version_block"`
	VersionIndex  int64          `db:"version_index"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r *LoanRepo) GetLoan(ctx context.Context, borrower string, loanID uint64) (*domain.Loan, error) {
	var row loanRow
	err := r.db.GetContext(ctx, &row, `
		SELECT borrower, loan_id, amount, period, daily_interest, claim_deadline, status,
			last_repayment, current_debt, version_block, version_index, updated_at
		FROM loans WHERE borrower = $1 AND loan_id = $2`, borrower, int64(loanID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return &domain.Loan{
		Borrower:      row.Borrower,
		LoanID:        uint64(row.LoanID),
		Amount:        row.Amount,
		Period:        row.Period,
		DailyInterest: row.DailyInterest,
		ClaimDeadline: uint64(row.ClaimDeadline),
		Status:        domain.LoanStatus(row.Status),
		LastRepayment: row.LastRepayment.String,
		CurrentDebt:   row.CurrentDebt.String,
		Version:       domain.Version{Block: uint64(row.VersionBlock), Index: uint(row.VersionIndex)},
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// UpdateLoan sets status and, when given, the repayment fields.
func (r *LoanRepo) UpdateLoan(ctx context.Context, l *domain.Loan) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE loans
		SET status = $3,
			last_repayment = COALESCE(NULLIF($4, '')::NUMERIC, last_repayment),
			current_debt = COALESCE(NULLIF($5, '')::NUMERIC, current_debt),
			version_block = $6, version_index = $7, updated_at = NOW()
		WHERE borrower = $1 AND loan_id = $2 AND (version_block, version_index) < ($6, $7)`,
		l.Borrower, int64(l.LoanID), string(l.Status), l.LastRepayment, l.CurrentDebt,
		int64(l.Version.Block), int64(l.Version.Index),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update loan: %w", err)
	}
	ok, err := applied(res)
	if err != nil || ok {
		return ok, err
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM loans WHERE borrower = $1 AND loan_id = $2)`, l.Borrower, int64(l.LoanID)); err != nil {
		return false, fmt.Errorf("failed to check loan: %w", err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

func (r *LoanRepo) CreateApplication(ctx context.Context, a *domain.LoanApplication) (int64, error) {
	status := a.Status
	if status == "" {
		status = domain.ApplicationStatusPending
	}
	var id int64
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO loan_applications (borrower, status) VALUES ($1, $2) RETURNING id`,
		a.Borrower, string(status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create application: %w", mapError(err))
	}
	return id, nil
}

// ApprovePendingApplication approves the newest pending application.
func (r *LoanRepo) ApprovePendingApplication(ctx context.Context, borrower string, v domain.Version) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE loan_applications
		SET status = 'approved', version_block = $2, version_index = $3, updated_at = NOW()
		WHERE id = (
			SELECT id FROM loan_applications
			WHERE borrower = $1 AND status = 'pending'
			ORDER BY id DESC LIMIT 1
		)`,
		borrower, int64(v.Block), int64(v.Index),
	)
	if err != nil {
		return false, fmt.Errorf("failed to approve application: %w", err)
	}
	return applied(res)
}
