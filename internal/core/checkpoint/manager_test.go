package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vietddude/impactwatcher/internal/core/domain"
)

// mockStore records every write so tests can assert on durable history.
type mockStore struct {
	mu       sync.Mutex
	block    uint64
	hasBlock bool
	marker   bool
	writes   []uint64
	failSet  error
}

func (s *mockStore) GetLastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block, s.hasBlock, nil
}

func (s *mockStore) SetLastProcessedBlock(ctx context.Context, n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet != nil {
		return s.failSet
	}
	s.writes = append(s.writes, n)
	if !s.hasBlock || n > s.block {
		s.block, s.hasBlock = n, true
	}
	return nil
}

func (s *mockStore) ResetLastProcessedBlock(ctx context.Context, n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block, s.hasBlock = n, true
	return nil
}

func (s *mockStore) IsRecoveryMarked(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker, nil
}

func (s *mockStore) SetRecoveryMarker(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marker = on
	return nil
}

func TestManager_LoadEmpty(t *testing.T) {
	m := NewManager(domain.ChainIDAlfajores, &mockStore{})

	cp, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.HasBlock || cp.Recovering {
		t.Errorf("expected empty checkpoint, got %+v", cp)
	}
}

func TestManager_LoadStaleMarker(t *testing.T) {
	m := NewManager(domain.ChainIDAlfajores, &mockStore{block: 100, hasBlock: true, marker: true})

	cp, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cp.HasBlock || cp.LastProcessedBlock != 100 || !cp.Recovering {
		t.Errorf("unexpected checkpoint %+v", cp)
	}
}

func TestManager_AdvanceMonotonic(t *testing.T) {
	store := &mockStore{}
	m := NewManager(domain.ChainIDAlfajores, store)
	ctx := context.Background()
	m.Load(ctx)
	m.BeginRecovery(ctx)
	if err := m.CompleteRecovery(ctx, 5); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := m.Advance(ctx, 10); err != nil {
		t.Fatalf("advance 10: %v", err)
	}
	if err := m.Advance(ctx, 10); err != nil {
		t.Errorf("equal advance should be a no-op, got %v", err)
	}
	if err := m.Advance(ctx, 9); !errors.Is(err, ErrRegression) {
		t.Errorf("expected ErrRegression, got %v", err)
	}
	if err := m.Advance(ctx, 12); err != nil {
		t.Fatalf("advance 12: %v", err)
	}

	if len(store.writes) != 3 || store.writes[0] != 5 || store.writes[1] != 10 || store.writes[2] != 12 {
		t.Errorf("expected writes [5 10 12], got %v", store.writes)
	}
	if got, _ := m.Flushed(); got != 12 {
		t.Errorf("expected flushed 12, got %d", got)
	}
	if lag := m.GetLag(20); lag != 8 {
		t.Errorf("expected lag 8, got %d", lag)
	}
}

func TestManager_HoldsUntilFirstRecovery(t *testing.T) {
	store := &mockStore{block: 100, hasBlock: true}
	m := NewManager(domain.ChainIDAlfajores, store)
	ctx := context.Background()

	// Live delivery can beat the replay pass to Load.
	if err := m.Advance(ctx, 106); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(store.writes) != 0 {
		t.Fatalf("expected no writes before recovery, got %v", store.writes)
	}
	if !m.Holding() {
		t.Fatal("a new manager must hold flushes")
	}

	cp, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cp.LastProcessedBlock != 100 {
		t.Fatalf("expected checkpoint 100 to survive early live flush, got %d", cp.LastProcessedBlock)
	}

	m.BeginRecovery(ctx)
	if err := m.CompleteRecovery(ctx, 105); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if store.block != 106 {
		t.Errorf("expected held block 106 after recovery, got %d", store.block)
	}
	if m.Holding() {
		t.Error("expected write-through after recovery")
	}
}

func TestManager_AbortBeforeRecoveryKeepsCheckpoint(t *testing.T) {
	store := &mockStore{block: 100, hasBlock: true}
	m := NewManager(domain.ChainIDAlfajores, store)
	ctx := context.Background()

	// Recovery never starts: nothing live saw may be persisted.
	m.Advance(ctx, 150)
	m.Advance(ctx, 151)

	if len(store.writes) != 0 || store.block != 100 {
		t.Errorf("expected checkpoint 100 untouched, got block=%d writes=%v", store.block, store.writes)
	}
}

func TestManager_HoldsDuringRecovery(t *testing.T) {
	store := &mockStore{block: 100, hasBlock: true}
	m := NewManager(domain.ChainIDAlfajores, store)
	ctx := context.Background()
	m.Load(ctx)

	if err := m.BeginRecovery(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !store.marker || !m.Holding() {
		t.Fatal("expected marker set and flushes held")
	}

	m.Advance(ctx, 110)
	m.Advance(ctx, 108)
	if len(store.writes) != 0 {
		t.Fatalf("expected no durable writes while holding, got %v", store.writes)
	}

	if err := m.CompleteRecovery(ctx, 105); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if store.block != 110 {
		t.Errorf("expected held block 110 to win over head 105, got %d", store.block)
	}
	if store.marker || m.Holding() {
		t.Error("expected marker cleared and flushes released")
	}

	m.Advance(ctx, 111)
	if store.block != 111 {
		t.Errorf("expected write-through after recovery, got %d", store.block)
	}
	if got := m.GetMetrics(); got.FlushCount != 2 || got.HeldFlushes != 1 {
		t.Errorf("unexpected metrics %+v", got)
	}
}

func TestManager_CompleteRecoveryUsesHead(t *testing.T) {
	store := &mockStore{block: 100, hasBlock: true}
	m := NewManager(domain.ChainIDAlfajores, store)
	ctx := context.Background()
	m.Load(ctx)

	m.BeginRecovery(ctx)
	if err := m.CompleteRecovery(ctx, 105); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if store.block != 105 {
		t.Errorf("expected 105, got %d", store.block)
	}
}

func TestManager_FailedFlushKeepsMarker(t *testing.T) {
	store := &mockStore{block: 100, hasBlock: true}
	m := NewManager(domain.ChainIDAlfajores, store)
	ctx := context.Background()
	m.Load(ctx)

	m.BeginRecovery(ctx)
	store.failSet = errors.New("connection reset")

	if err := m.CompleteRecovery(ctx, 105); err == nil {
		t.Fatal("expected error")
	}
	if !store.marker || !m.Holding() {
		t.Error("marker must stay set when the final flush fails")
	}
}

func TestManager_Reset(t *testing.T) {
	store := &mockStore{block: 100, hasBlock: true}
	m := NewManager(domain.ChainIDAlfajores, store)
	ctx := context.Background()
	m.Load(ctx)

	if err := m.Reset(ctx, 50); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, _ := m.Flushed(); got != 50 || store.block != 50 {
		t.Errorf("expected 50, got manager=%d store=%d", got, store.block)
	}
}
