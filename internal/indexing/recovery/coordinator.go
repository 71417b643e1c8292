// Package recovery replays logs missed while the process was down.
//
// A pass reads the checkpoint, sets the durable recovery marker, fetches every
// matching log from the checkpoint to the current head and applies them in
// (block, log index) order. Only a completed pass clears the marker; an
// aborted one leaves it set so the next start replays from the same point.
package recovery

import (
	"context"
	"fmt"
	logger "log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/handler"
	"github.com/vietddude/impactwatcher/internal/indexing/metrics"
)

// Source is the historical side of the event source.
type Source interface {
	LatestBlock(ctx context.Context) (uint64, error)
	GetLogsRange(ctx context.Context, from, to uint64, topics []common.Hash, fn func(from, to uint64, logs []types.Log) error) error
}

// Router turns a raw log into a parsed event, or drops it.
type Router interface {
	Route(l types.Log) (*domain.ParsedEvent, bool)
}

// Dispatcher applies a parsed event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *domain.ParsedEvent) error
}

// Checkpointer is the checkpoint manager as seen by recovery.
type Checkpointer interface {
	Load(ctx context.Context) (domain.Checkpoint, error)
	BeginRecovery(ctx context.Context) error
	CompleteRecovery(ctx context.Context, head uint64) error
}

// Config for a Coordinator.
type Config struct {
	ChainID domain.ChainID
	// Genesis is the first block scanned when no checkpoint exists
	Genesis uint64
	Topics  []common.Hash
	// Retry decides whether an aborted pass is retried in-process
	Retry RetryStrategy
}

// Status is a point-in-time view for health reporting.
type Status struct {
	State      string    `json:"state"`
	FromBlock  uint64    `json:"from_block"`
	Head       uint64    `json:"head"`
	Fetched    int       `json:"fetched"`
	Dispatched int       `json:"dispatched"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Coordinator runs the recovery state machine for one chain.
type Coordinator struct {
	cfg        Config
	source     Source
	router     Router
	dispatcher Dispatcher
	checkpoint Checkpointer
	log        *logger.Logger

	mu     sync.RWMutex
	state  State
	status Status
}

func NewCoordinator(cfg Config, source Source, router Router, dispatcher Dispatcher, checkpoint Checkpointer) *Coordinator {
	if cfg.Retry == nil {
		cfg.Retry = DefaultBackoff(0)
	}
	c := &Coordinator{
		cfg:        cfg,
		source:     source,
		router:     router,
		dispatcher: dispatcher,
		checkpoint: checkpoint,
		log:        logger.Default().With("component", "recovery", "chain", cfg.ChainID),
		state:      StateIdle,
	}
	c.status.State = StateIdle.String()
	metrics.RecoveryState.WithLabelValues(string(cfg.ChainID)).Set(float64(StateIdle))
	return c
}

// Run executes one recovery pass, retrying per the configured strategy. It
// returns nil on completion and the last error when the pass is aborted.
func (c *Coordinator) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if err := c.transition(StateRunning); err != nil {
			return err
		}
		c.mu.Lock()
		c.status.Attempts = attempt + 1
		c.status.StartedAt = time.Now()
		c.status.LastError = ""
		c.mu.Unlock()

		err := c.runOnce(ctx)
		if err == nil {
			c.finish(StateCompleted, nil)
			return nil
		}

		c.finish(StateAborted, err)
		c.log.Error("Recovery aborted, marker left set", "attempt", attempt+1, "error", err)

		if ctx.Err() != nil || !c.cfg.Retry.ShouldRetry(err, attempt) {
			return err
		}

		delay := c.cfg.Retry.GetDelay(attempt)
		c.log.Info("Retrying recovery", "delay", delay)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

func (c *Coordinator) runOnce(ctx context.Context) error {
	cp, err := c.checkpoint.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp.Recovering {
		c.log.Warn("Previous recovery pass did not complete, replaying", "block", cp.LastProcessedBlock)
	}

	// The checkpoint block is replayed too; handlers are idempotent.
	start := c.cfg.Genesis
	if cp.HasBlock {
		start = cp.LastProcessedBlock
	}

	if err := c.checkpoint.BeginRecovery(ctx); err != nil {
		return err
	}

	head, err := c.source.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("read head: %w", err)
	}
	metrics.ChainLatestBlock.WithLabelValues(string(c.cfg.ChainID)).Set(float64(head))

	c.mu.Lock()
	c.status.FromBlock, c.status.Head = start, head
	c.status.Fetched, c.status.Dispatched = 0, 0
	c.mu.Unlock()

	c.log.Info("Recovery started", "from", start, "head", head)

	if start <= head {
		// Windows arrive in ascending, disjoint ranges, so sorting each
		// window yields the global (block, index) order.
		err = c.source.GetLogsRange(ctx, start, head, c.cfg.Topics, func(from, to uint64, logs []types.Log) error {
			c.apply(ctx, logs)
			return ctx.Err()
		})
		if err != nil {
			return fmt.Errorf("fetch logs %d-%d: %w", start, head, err)
		}
	}

	if err := c.checkpoint.CompleteRecovery(ctx, head); err != nil {
		return err
	}

	st := c.Status()
	c.log.Info("Recovery completed", "from", start, "head", head, "fetched", st.Fetched, "dispatched", st.Dispatched)
	return nil
}

// apply routes and dispatches logs in order. Failures are logged per event
// and never stop the loop.
func (c *Coordinator) apply(ctx context.Context, logs []types.Log) {
	SortLogs(logs)
	metrics.LogsReceived.WithLabelValues("recovery").Add(float64(len(logs)))

	dispatched := 0
	for _, l := range logs {
		if l.Removed {
			continue
		}
		ev, ok := c.router.Route(l)
		if !ok {
			continue
		}
		if err := c.dispatcher.Dispatch(ctx, ev); err != nil {
			handler.LogDispatchError(c.log, ev, err)
			continue
		}
		dispatched++
	}

	c.mu.Lock()
	c.status.Fetched += len(logs)
	c.status.Dispatched += dispatched
	c.mu.Unlock()
}

func (c *Coordinator) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !CanTransition(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
	}
	c.state = to
	c.status.State = to.String()
	metrics.RecoveryState.WithLabelValues(string(c.cfg.ChainID)).Set(float64(to))
	return nil
}

func (c *Coordinator) finish(to State, err error) {
	if terr := c.transition(to); terr != nil {
		c.log.Error("Recovery state change rejected", "error", terr)
		return
	}
	c.mu.Lock()
	c.status.FinishedAt = time.Now()
	if err != nil {
		c.status.LastError = err.Error()
	}
	c.mu.Unlock()
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a snapshot for health reporting.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SortLogs orders logs by (block, log index) ascending.
func SortLogs(logs []types.Log) {
	sort.SliceStable(logs, func(i, j int) bool {
		return domain.VersionOf(logs[i]).Less(domain.VersionOf(logs[j]))
	})
}
