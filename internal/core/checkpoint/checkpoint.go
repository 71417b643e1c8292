// Package checkpoint guards the durable "last processed block" of a chain.
//
// # Purpose
//
// The checkpoint is where a restarted watcher resumes replaying history. Two
// rules keep it honest:
//
//   - Monotonic: a flush never moves the stored block backwards. Flushing a
//     block at or below the current checkpoint is a no-op.
//   - Held until recovery completes: a new Manager starts holding, and flushes
//     are only remembered in memory until the first CompleteRecovery. Live
//     logs may arrive before the replay pass has even loaded the checkpoint;
//     persisting them would let the next boot skip the range the replay never
//     finished.
//
// # Quick Start
//
//	m := checkpoint.NewManager(chainID, store)
//	m.Advance(ctx, 1001)              // held in memory
//	cp, _ := m.Load(ctx)              // last block + stale recovery marker
//	m.BeginRecovery(ctx)              // marker on
//	m.CompleteRecovery(ctx, head)     // flush max(head, held), marker off
//	m.Advance(ctx, 1002)              // written through
//
// # Package Structure
//
//   - manager.go - Manager with monotonic and held flushes
//   - metrics.go - flush history (blocks/sec, recent flushes)
package checkpoint

import (
	"errors"
	logger "log/slog"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/infra/storage"
)

// ErrRegression is returned when a flush targets a block below the checkpoint.
var ErrRegression = errors.New("checkpoint regression")

// NewManager creates a checkpoint manager for one chain. Flushes are held
// until the first CompleteRecovery.
func NewManager(chainID domain.ChainID, store storage.CheckpointStore) *Manager {
	return &Manager{
		chainID:   chainID,
		store:     store,
		holding:   true,
		collector: NewMetricsCollector(100),
		log:       logger.Default().With("component", "checkpoint", "chain", chainID),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize: windowSize,
		flushes:    make([]flushRecord, 0, windowSize),
	}
}
