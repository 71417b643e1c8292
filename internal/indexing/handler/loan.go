package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/infra/storage"
)

// loanAdded records the borrower and the offered loan, then approves the
// borrower's pending application.
func (d *Dispatcher) loanAdded(ctx context.Context, ev *domain.ParsedEvent) (bool, error) {
	userAddr, err := address(ev, "userAddress")
	if err != nil {
		return false, err
	}
	loanID, err := uint64Arg(ev, "loanId")
	if err != nil {
		return false, err
	}
	claimDeadline, err := uint64Arg(ev, "claimDeadline")
	if err != nil {
		return false, err
	}
	amount, err := bigString(ev, "amount")
	if err != nil {
		return false, err
	}
	period, err := bigString(ev, "period")
	if err != nil {
		return false, err
	}
	dailyInterest, err := bigString(ev, "dailyInterest")
	if err != nil {
		return false, err
	}

	borrower := domain.NormalizeAddress(userAddr)
	v := ev.Version()

	if _, err := d.repos.Loans.UpsertBorrower(ctx, &domain.Borrower{Address: borrower, Version: v}); err != nil {
		return false, fmt.Errorf("upsert borrower %s: %w", borrower, err)
	}

	applied, err := d.repos.Loans.UpsertLoan(ctx, &domain.Loan{
		Borrower:      borrower,
		LoanID:        loanID,
		Amount:        amount,
		Period:        period,
		DailyInterest: dailyInterest,
		ClaimDeadline: claimDeadline,
		Status:        domain.LoanStatusAdded,
		Version:       v,
	})
	if err != nil {
		return false, fmt.Errorf("upsert loan %s/%d: %w", borrower, loanID, err)
	}
	if !applied {
		return false, nil
	}

	approved, err := d.repos.Loans.ApprovePendingApplication(ctx, borrower, v)
	if err != nil {
		return applied, fmt.Errorf("approve application of %s: %w", borrower, err)
	}
	if !approved {
		d.log.Debug("No pending application for borrower", "borrower", borrower, "loan_id", loanID)
	}

	d.emitter.Emit(borrower, domain.NotificationLoanAdded, map[string]any{
		"loanId": loanID,
		"amount": amount,
	})
	return applied, nil
}

func (d *Dispatcher) loanClaimed(ctx context.Context, ev *domain.ParsedEvent) (bool, error) {
	userAddr, err := address(ev, "userAddress")
	if err != nil {
		return false, err
	}
	loanID, err := uint64Arg(ev, "loanId")
	if err != nil {
		return false, err
	}

	return d.updateLoan(ctx, &domain.Loan{
		Borrower: domain.NormalizeAddress(userAddr),
		LoanID:   loanID,
		Status:   domain.LoanStatusClaimed,
		Version:  ev.Version(),
	})
}

// repaymentAdded implies the loan was claimed.
func (d *Dispatcher) repaymentAdded(ctx context.Context, ev *domain.ParsedEvent) (bool, error) {
	userAddr, err := address(ev, "userAddress")
	if err != nil {
		return false, err
	}
	loanID, err := uint64Arg(ev, "loanId")
	if err != nil {
		return false, err
	}
	repayment, err := bigString(ev, "repaymentAmount")
	if err != nil {
		return false, err
	}
	debt, err := bigString(ev, "currentDebt")
	if err != nil {
		return false, err
	}

	return d.updateLoan(ctx, &domain.Loan{
		Borrower:      domain.NormalizeAddress(userAddr),
		LoanID:        loanID,
		Status:        domain.LoanStatusClaimed,
		LastRepayment: repayment,
		CurrentDebt:   debt,
		Version:       ev.Version(),
	})
}

func (d *Dispatcher) updateLoan(ctx context.Context, l *domain.Loan) (bool, error) {
	applied, err := d.repos.Loans.UpdateLoan(ctx, l)
	if errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("%w: loan %s/%d", ErrMissingReference, l.Borrower, l.LoanID)
	}
	if err != nil {
		return false, fmt.Errorf("update loan %s/%d: %w", l.Borrower, l.LoanID, err)
	}
	return applied, nil
}
