package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/impactwatcher/internal/core/checkpoint"
	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/live"
	"github.com/vietddude/impactwatcher/internal/indexing/recovery"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/routing"
)

// HeadFetcher fetches the latest block height of the chain.
type HeadFetcher interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// Checkpointer reports the durable checkpoint.
type Checkpointer interface {
	Flushed() (uint64, bool)
	Holding() bool
	GetLag(head uint64) int64
	GetMetrics() checkpoint.Metrics
}

type RecoveryReporter interface {
	Status() recovery.Status
}

type LiveReporter interface {
	Status() live.Status
}

type ProviderReporter interface {
	States(chainID domain.ChainID) []routing.ProviderState
}

type RegistryReporter interface {
	Size() int
}

// Components are the parts of a running watcher the monitor inspects.
type Components struct {
	Head       HeadFetcher
	Checkpoint Checkpointer
	Recovery   RecoveryReporter
	Live       LiveReporter
	Providers  ProviderReporter
	Registry   RegistryReporter
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	chainID    domain.ChainID
	c          Components
	cacheFor   time.Duration
	lastCheck  time.Time
	lastReport map[string]ChainHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(chainID domain.ChainID, c Components) *Monitor {
	return &Monitor{
		chainID:    chainID,
		c:          c,
		cacheFor:   10 * time.Second,
		lastReport: make(map[string]ChainHealth),
	}
}

// CheckHealth performs a health check. Results are cached briefly so health
// probes do not hammer the RPC endpoints.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ChainHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < m.cacheFor && len(m.lastReport) > 0 {
		return m.lastReport
	}

	h := ChainHealth{
		ChainID: string(m.chainID),
		Status:  StatusHealthy,
	}
	degrade := func(reason string) {
		if h.Status == StatusHealthy {
			h.Status = StatusDegraded
		}
		h.Reasons = append(h.Reasons, reason)
	}
	critical := func(reason string) {
		h.Status = StatusCritical
		h.Reasons = append(h.Reasons, reason)
	}

	h.Recovery = m.c.Recovery.Status()
	h.Live = m.c.Live.Status()
	h.RegistrySize = m.c.Registry.Size()
	h.Providers = m.c.Providers.States(m.chainID)
	h.Holding = m.c.Checkpoint.Holding()
	h.Checkpoint, _ = m.c.Checkpoint.Flushed()
	h.Progress = m.c.Checkpoint.GetMetrics()

	head, err := m.c.Head.LatestBlock(ctx)
	if err != nil {
		degrade("chain head unavailable")
	} else {
		h.Head = head
		h.BlockLag = m.c.Checkpoint.GetLag(head)
	}

	if !h.Live.Running {
		critical("live subscription not running")
	} else if !h.Live.Connected {
		degrade("live subscription reconnecting")
	}

	switch h.Recovery.State {
	case recovery.StateAborted.String():
		degrade("recovery aborted")
	case recovery.StateRunning.String():
		degrade("recovery running")
	}

	open := 0
	for _, p := range h.Providers {
		if p.CircuitOpen {
			open++
		}
	}
	if len(h.Providers) > 0 && open == len(h.Providers) {
		degrade("all rpc providers circuit open")
	}

	report := map[string]ChainHealth{h.ChainID: h}
	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
