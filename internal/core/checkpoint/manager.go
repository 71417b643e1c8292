package checkpoint

import (
	"context"
	"fmt"
	logger "log/slog"
	"sync"
	"time"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/metrics"
	"github.com/vietddude/impactwatcher/internal/infra/storage"
)

// Manager serializes checkpoint writes for one chain.
type Manager struct {
	chainID domain.ChainID
	store   storage.CheckpointStore
	log     *logger.Logger

	mu         sync.Mutex
	flushed    uint64
	hasFlushed bool
	holding    bool
	pending    uint64
	hasPending bool
	collector  *MetricsCollector
}

// Load reads the stored checkpoint and primes the in-memory position.
func (m *Manager) Load(ctx context.Context) (domain.Checkpoint, error) {
	block, ok, err := m.store.GetLastProcessedBlock(ctx)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	marked, err := m.store.IsRecoveryMarked(ctx)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("failed to get recovery marker: %w", err)
	}

	m.mu.Lock()
	m.flushed, m.hasFlushed = block, ok
	m.mu.Unlock()

	if ok {
		metrics.CheckpointBlock.WithLabelValues(string(m.chainID)).Set(float64(block))
	}

	return domain.Checkpoint{
		ChainID:            m.chainID,
		LastProcessedBlock: block,
		HasBlock:           ok,
		Recovering:         marked,
	}, nil
}

// BeginRecovery sets the durable marker and keeps flushes held.
func (m *Manager) BeginRecovery(ctx context.Context) error {
	m.mu.Lock()
	m.holding = true
	m.mu.Unlock()

	if err := m.store.SetRecoveryMarker(ctx, true); err != nil {
		return fmt.Errorf("failed to set recovery marker: %w", err)
	}
	return nil
}

// CompleteRecovery flushes max(head, held) and clears the marker. The marker
// is cleared only after the block is durable.
func (m *Manager) CompleteRecovery(ctx context.Context, head uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := head
	if m.hasPending && m.pending > target {
		target = m.pending
	}
	if !m.hasFlushed || target > m.flushed {
		if err := m.flushLocked(ctx, target); err != nil {
			return err
		}
	}

	if err := m.store.SetRecoveryMarker(ctx, false); err != nil {
		return fmt.Errorf("failed to clear recovery marker: %w", err)
	}

	m.holding = false
	m.hasPending = false
	m.pending = 0
	m.log.Info("Recovery checkpoint committed", "block", m.flushed)
	return nil
}

// Advance records that every log up to and including block has been handled.
// Equal blocks are a no-op; lower blocks return ErrRegression.
func (m *Manager) Advance(ctx context.Context, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasFlushed {
		if block == m.flushed {
			return nil
		}
		if block < m.flushed {
			return fmt.Errorf("%w: at %d, got %d", ErrRegression, m.flushed, block)
		}
	}

	if m.holding {
		if !m.hasPending || block > m.pending {
			m.pending, m.hasPending = block, true
			m.collector.RecordHeld()
		}
		return nil
	}

	return m.flushLocked(ctx, block)
}

func (m *Manager) flushLocked(ctx context.Context, block uint64) error {
	if err := m.store.SetLastProcessedBlock(ctx, block); err != nil {
		return fmt.Errorf("failed to flush checkpoint %d: %w", block, err)
	}
	m.flushed, m.hasFlushed = block, true
	m.collector.RecordFlush(block, time.Now())
	metrics.CheckpointBlock.WithLabelValues(string(m.chainID)).Set(float64(block))
	return nil
}

// Reset rewinds the stored checkpoint unconditionally. Operator use only.
func (m *Manager) Reset(ctx context.Context, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.ResetLastProcessedBlock(ctx, block); err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	m.flushed, m.hasFlushed = block, true
	metrics.CheckpointBlock.WithLabelValues(string(m.chainID)).Set(float64(block))
	return nil
}

// Flushed returns the last durably written block.
func (m *Manager) Flushed() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushed, m.hasFlushed
}

// Holding reports whether flushes are being held back.
func (m *Manager) Holding() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holding
}

// GetLag returns how many blocks the durable checkpoint is behind head.
func (m *Manager) GetLag(head uint64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasFlushed {
		return int64(head)
	}
	return int64(head) - int64(m.flushed)
}

// GetMetrics returns flush progress metrics.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collector.GetMetrics()
}
