package memory

import (
	"context"
	"sync"
)

// CheckpointStore keeps the checkpoint of one chain in memory.
type CheckpointStore struct {
	mu         sync.Mutex
	block      uint64
	hasBlock   bool
	recovering bool
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{}
}

func (s *CheckpointStore) GetLastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block, s.hasBlock, nil
}

func (s *CheckpointStore) SetLastProcessedBlock(ctx context.Context, n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasBlock || n > s.block {
		s.block, s.hasBlock = n, true
	}
	return nil
}

func (s *CheckpointStore) ResetLastProcessedBlock(ctx context.Context, n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block, s.hasBlock = n, true
	return nil
}

func (s *CheckpointStore) IsRecoveryMarked(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovering, nil
}

func (s *CheckpointStore) SetRecoveryMarker(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovering = on
	return nil
}
