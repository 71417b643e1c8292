// Package live applies logs pushed by the chain subscription as the head
// advances and periodically advances the checkpoint behind them.
package live

import (
	"context"
	"errors"
	"fmt"
	logger "log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/impactwatcher/internal/core/checkpoint"
	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/handler"
	"github.com/vietddude/impactwatcher/internal/infra/chain"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("live manager already started")

// FlushPolicy selects when the checkpoint advances.
type FlushPolicy string

const (
	// FlushEvents advances every FlushEvery logs to the block below the one
	// being processed
	FlushEvents FlushPolicy = "events"

	// FlushBlock advances to the previous block as soon as a higher block
	// arrives
	FlushBlock FlushPolicy = "block"
)

const defaultFlushEvery = 100

// Router turns a raw log into a parsed event, or drops it.
type Router interface {
	Route(l types.Log) (*domain.ParsedEvent, bool)
}

// Dispatcher applies a parsed event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *domain.ParsedEvent) error
}

// Checkpointer is the checkpoint manager as seen by the live path.
type Checkpointer interface {
	Advance(ctx context.Context, block uint64) error
}

type Config struct {
	ChainID    domain.ChainID
	Topics     []common.Hash
	Policy     FlushPolicy
	FlushEvery int
}

// Status is a point-in-time view for health reporting.
type Status struct {
	Running     bool      `json:"running"`
	Connected   bool      `json:"connected"`
	LastBlock   uint64    `json:"last_block"`
	Received    int64     `json:"received"`
	Dispatched  int64     `json:"dispatched"`
	LastFlushed uint64    `json:"last_flushed"`
	LastLogAt   time.Time `json:"last_log_at,omitempty"`
}

// Manager owns the live subscription.
type Manager struct {
	cfg        Config
	subscriber chain.LogSubscriber
	router     Router
	dispatcher Dispatcher
	checkpoint Checkpointer
	log        *logger.Logger

	// mu serializes onLog with Start, Stop and Status.
	mu           sync.Mutex
	ctx          context.Context
	subscription chain.Subscription
	highest      uint64
	hasHighest   bool
	sinceFlush   int
	lastFlushed  uint64
	received     int64
	dispatched   int64
	lastLogAt    time.Time
}

func NewManager(cfg Config, subscriber chain.LogSubscriber, router Router, dispatcher Dispatcher, cp Checkpointer) *Manager {
	if cfg.Policy == "" {
		cfg.Policy = FlushBlock
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	return &Manager{
		cfg:        cfg,
		subscriber: subscriber,
		router:     router,
		dispatcher: dispatcher,
		checkpoint: cp,
		log:        logger.Default().With("component", "live", "chain", cfg.ChainID),
	}
}

// Start opens the subscription and returns once it is registered. Logs are
// handled on the subscriber's goroutine until Stop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.subscription != nil {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.ctx = ctx
	m.mu.Unlock()

	sub, err := m.subscriber.Subscribe(ctx, m.cfg.Topics, m.onLog)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	m.mu.Lock()
	m.subscription = sub
	m.mu.Unlock()

	m.log.Info("Live subscription started", "policy", m.cfg.Policy, "topics", len(m.cfg.Topics))
	return nil
}

// Stop closes the subscription, which waits for any in-flight log, then
// flushes the highest block handled. No log is handled after Stop returns.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	sub := m.subscription
	m.subscription = nil
	m.mu.Unlock()

	if sub == nil {
		return nil
	}
	sub.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasHighest {
		m.log.Info("Live subscription stopped, nothing to flush")
		return nil
	}
	if err := m.advance(ctx, m.highest); err != nil {
		return fmt.Errorf("final flush at %d: %w", m.highest, err)
	}
	m.log.Info("Live subscription stopped", "last_block", m.highest, "received", m.received)
	return nil
}

func (m *Manager) onLog(l types.Log) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := m.ctx
	block := l.BlockNumber

	// The previous block is complete once a higher one shows up.
	if m.cfg.Policy == FlushBlock && m.hasHighest && block > m.highest {
		m.flush(ctx, m.highest)
	}

	m.received++
	m.lastLogAt = time.Now()
	if ev, ok := m.router.Route(l); ok {
		if err := m.dispatcher.Dispatch(ctx, ev); err != nil {
			handler.LogDispatchError(m.log, ev, err)
		} else {
			m.dispatched++
		}
	}

	if !m.hasHighest || block > m.highest {
		m.highest, m.hasHighest = block, true
	}

	if m.cfg.Policy == FlushEvents {
		m.sinceFlush++
		if m.sinceFlush >= m.cfg.FlushEvery && block > 0 {
			m.sinceFlush = 0
			// Other logs of this block may still be on their way.
			m.flush(ctx, block-1)
		}
	}
}

// flush advances the checkpoint. A regression means recovery or an earlier
// flush is already ahead, which is fine.
func (m *Manager) flush(ctx context.Context, block uint64) {
	err := m.advance(ctx, block)
	switch {
	case err == nil:
	case errors.Is(err, checkpoint.ErrRegression):
		m.log.Debug("Checkpoint already ahead", "block", block, "error", err)
	default:
		m.log.Error("Checkpoint flush failed", "block", block, "error", err)
	}
}

func (m *Manager) advance(ctx context.Context, block uint64) error {
	if err := m.checkpoint.Advance(ctx, block); err != nil {
		return err
	}
	if block > m.lastFlushed {
		m.lastFlushed = block
	}
	return nil
}

// Status returns a snapshot for health reporting.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Running:     m.subscription != nil,
		LastBlock:   m.highest,
		Received:    m.received,
		Dispatched:  m.dispatched,
		LastFlushed: m.lastFlushed,
		LastLogAt:   m.lastLogAt,
	}
	if m.subscription != nil {
		st.Connected = m.subscription.Connected()
	}
	return st
}
