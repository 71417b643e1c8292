// Package memory implements the storage repositories in process memory.
// It backs tests and single-process runs without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/infra/storage"
)

type memberKey struct {
	communityID int64
	address     string
}

type loanKey struct {
	borrower string
	loanID   uint64
}

type MemoryStorage struct {
	mu            sync.RWMutex
	nextID        int64
	communities   map[int64]*domain.Community
	beneficiaries map[memberKey]*domain.Beneficiary
	managers      map[memberKey]*domain.Manager
	borrowers     map[string]*domain.Borrower
	loans         map[loanKey]*domain.Loan
	applications  map[int64]*domain.LoanApplication
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		communities:   make(map[int64]*domain.Community),
		beneficiaries: make(map[memberKey]*domain.Beneficiary),
		managers:      make(map[memberKey]*domain.Manager),
		borrowers:     make(map[string]*domain.Borrower),
		loans:         make(map[loanKey]*domain.Loan),
		applications:  make(map[int64]*domain.LoanApplication),
	}
}

// Repositories returns every repository backed by this storage.
func (s *MemoryStorage) Repositories() storage.Repositories {
	return storage.Repositories{
		Communities:   &CommunityRepo{store: s},
		Beneficiaries: &BeneficiaryRepo{store: s},
		Managers:      &ManagerRepo{store: s},
		Loans:         &LoanRepo{store: s},
	}
}

func (s *MemoryStorage) id() int64 {
	s.nextID++
	return s.nextID
}

// -----------------------------------------------------------------------------
// Community Repository
// -----------------------------------------------------------------------------

type CommunityRepo struct {
	store *MemoryStorage
}

func NewCommunityRepo(store *MemoryStorage) *CommunityRepo {
	return &CommunityRepo{store: store}
}

func (r *CommunityRepo) Create(ctx context.Context, c *domain.Community) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if c.ContractAddress != "" {
		for _, existing := range r.store.communities {
			if existing.ContractAddress == c.ContractAddress {
				return 0, fmt.Errorf("contract %s: %w", c.ContractAddress, storage.ErrConflict)
			}
		}
	}
	cp := *c
	cp.ID = r.store.id()
	if cp.Status == "" {
		cp.Status = domain.CommunityStatusPending
	}
	cp.UpdatedAt = time.Now()
	r.store.communities[cp.ID] = &cp
	return cp.ID, nil
}

func (r *CommunityRepo) GetByContract(ctx context.Context, contract string) (*domain.Community, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, c := range r.store.communities {
		if c.ContractAddress == contract {
			cp := *c
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *CommunityRepo) GetPendingByRequester(ctx context.Context, requester string) (*domain.Community, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	// Oldest request wins, matching the SQL ORDER BY id.
	var found *domain.Community
	for _, c := range r.store.communities {
		if c.RequestByAddress == requester && c.Status == domain.CommunityStatusPending {
			if found == nil || c.ID < found.ID {
				found = c
			}
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (r *CommunityRepo) GetLatestActivatedByRequester(ctx context.Context, requester string) (*domain.Community, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var found *domain.Community
	for _, c := range r.store.communities {
		if c.RequestByAddress == requester && c.ContractAddress != "" {
			if found == nil || found.Version.Less(c.Version) {
				found = c
			}
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

func (r *CommunityRepo) Activate(ctx context.Context, id int64, contract string, v domain.Version) (bool, error) {
	return r.update(id, v, func(c *domain.Community) {
		c.ContractAddress = contract
		c.Status = domain.CommunityStatusValid
	})
}

func (r *CommunityRepo) SetStatus(ctx context.Context, id int64, status domain.CommunityStatus, v domain.Version) (bool, error) {
	return r.update(id, v, func(c *domain.Community) {
		c.Status = status
	})
}

func (r *CommunityRepo) Migrate(ctx context.Context, id int64, contract string, v domain.Version) (bool, error) {
	return r.update(id, v, func(c *domain.Community) {
		c.PreviousContractAddress = c.ContractAddress
		c.ContractAddress = contract
		c.Status = domain.CommunityStatusValid
	})
}

func (r *CommunityRepo) update(id int64, v domain.Version, fn func(*domain.Community)) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	c, ok := r.store.communities[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if !c.Version.Less(v) {
		return false, nil
	}
	fn(c)
	c.Version = v
	c.UpdatedAt = time.Now()
	return true, nil
}

func (r *CommunityRepo) ListDeployed(ctx context.Context) ([]*domain.Community, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.Community
	for _, c := range r.store.communities {
		if c.ContractAddress != "" {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Beneficiary Repository
// -----------------------------------------------------------------------------

type BeneficiaryRepo struct {
	store *MemoryStorage
}

func (r *BeneficiaryRepo) Upsert(ctx context.Context, b *domain.Beneficiary) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := memberKey{b.CommunityID, b.Address}
	if existing, ok := r.store.beneficiaries[key]; ok && !existing.Version.Less(b.Version) {
		return false, nil
	}
	cp := *b
	cp.UpdatedAt = time.Now()
	r.store.beneficiaries[key] = &cp
	return true, nil
}

func (r *BeneficiaryRepo) Get(ctx context.Context, communityID int64, address string) (*domain.Beneficiary, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	b, ok := r.store.beneficiaries[memberKey{communityID, address}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *BeneficiaryRepo) DeactivateAll(ctx context.Context, communityID int64, v domain.Version) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var n int64
	for key, b := range r.store.beneficiaries {
		if key.communityID != communityID || b.State == domain.BeneficiaryStateInactive || !b.Version.Less(v) {
			continue
		}
		b.State = domain.BeneficiaryStateInactive
		b.Version = v
		b.UpdatedAt = time.Now()
		n++
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Manager Repository
// -----------------------------------------------------------------------------

type ManagerRepo struct {
	store *MemoryStorage
}

func (r *ManagerRepo) Upsert(ctx context.Context, m *domain.Manager) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := memberKey{m.CommunityID, m.Address}
	if existing, ok := r.store.managers[key]; ok && !existing.Version.Less(m.Version) {
		return false, nil
	}
	cp := *m
	cp.UpdatedAt = time.Now()
	r.store.managers[key] = &cp
	return true, nil
}

func (r *ManagerRepo) Get(ctx context.Context, communityID int64, address string) (*domain.Manager, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	m, ok := r.store.managers[memberKey{communityID, address}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// -----------------------------------------------------------------------------
// Loan Repository
// -----------------------------------------------------------------------------

type LoanRepo struct {
	store *MemoryStorage
}

func (r *LoanRepo) UpsertBorrower(ctx context.Context, b *domain.Borrower) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.borrowers[b.Address]; ok {
		return false, nil
	}
	cp := *b
	cp.UpdatedAt = time.Now()
	r.store.borrowers[b.Address] = &cp
	return true, nil
}

func (r *LoanRepo) UpsertLoan(ctx context.Context, l *domain.Loan) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := loanKey{l.Borrower, l.LoanID}
	if existing, ok := r.store.loans[key]; ok && !existing.Version.Less(l.Version) {
		return false, nil
	}
	cp := *l
	cp.UpdatedAt = time.Now()
	r.store.loans[key] = &cp
	return true, nil
}

func (r *LoanRepo) GetLoan(ctx context.Context, borrower string, loanID uint64) (*domain.Loan, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	l, ok := r.store.loans[loanKey{borrower, loanID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *LoanRepo) UpdateLoan(ctx context.Context, l *domain.Loan) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, ok := r.store.loans[loanKey{l.Borrower, l.LoanID}]
	if !ok {
		return false, storage.ErrNotFound
	}
	if !existing.Version.Less(l.Version) {
		return false, nil
	}
	existing.Status = l.Status
	if l.LastRepayment != "" {
		existing.LastRepayment = l.LastRepayment
	}
	if l.CurrentDebt != "" {
		existing.CurrentDebt = l.CurrentDebt
	}
	existing.Version = l.Version
	existing.UpdatedAt = time.Now()
	return true, nil
}

func (r *LoanRepo) CreateApplication(ctx context.Context, a *domain.LoanApplication) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cp := *a
	cp.ID = r.store.id()
	if cp.Status == "" {
		cp.Status = domain.ApplicationStatusPending
	}
	cp.UpdatedAt = time.Now()
	r.store.applications[cp.ID] = &cp
	return cp.ID, nil
}

func (r *LoanRepo) ApprovePendingApplication(ctx context.Context, borrower string, v domain.Version) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var target *domain.LoanApplication
	for _, a := range r.store.applications {
		if a.Borrower != borrower || a.Status != domain.ApplicationStatusPending {
			continue
		}
		if target == nil || a.ID > target.ID {
			target = a
		}
	}
	if target == nil {
		return false, nil
	}
	target.Status = domain.ApplicationStatusApproved
	target.Version = v
	target.UpdatedAt = time.Now()
	return true, nil
}

// Applications returns every application of a borrower, oldest first.
func (r *LoanRepo) Applications(borrower string) []*domain.LoanApplication {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var out []*domain.LoanApplication
	for _, a := range r.store.applications {
		if a.Borrower == borrower {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
