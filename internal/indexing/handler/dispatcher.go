// Package handler applies parsed contract events to the persisted model.
//
// Every write is stamped with the (block, log index) of its source log and
// repositories apply it only when it is newer than what is stored. Replays and
// overlapping delivery from recovery and the live feed are therefore no-ops
// for entities that already reflect a later event.
package handler

import (
	"context"
	"errors"
	"fmt"
	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/impactwatcher/internal/contracts"
	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/emitter"
	"github.com/vietddude/impactwatcher/internal/indexing/metrics"
	"github.com/vietddude/impactwatcher/internal/infra/storage"
)

var (
	// ErrUnregisteredCommunity means a community event came from an address
	// missing in the registry
	ErrUnregisteredCommunity = errors.New("community not registered")

	// ErrNoPendingRequest means CommunityAdded matched no pending request
	ErrNoPendingRequest = errors.New("no pending community request")

	// ErrMissingReference means the event updates an entity not stored yet
	ErrMissingReference = errors.New("referenced entity not found")

	// ErrBadArgs means a decoded event lacks an expected argument
	ErrBadArgs = errors.New("malformed event arguments")
)

// Registry is the subset of the registry cache the handlers need.
type Registry interface {
	Resolve(addr common.Address) (int64, bool)
	Register(addr common.Address, communityID int64, public bool) bool
}

// HandlerFunc applies one event. It reports whether any write applied.
type HandlerFunc func(ctx context.Context, ev *domain.ParsedEvent) (bool, error)

type key struct {
	category domain.Category
	name     string
}

// Options tunes handler policy.
type Options struct {
	// CascadeOnRemoval marks all beneficiaries inactive when a community is
	// removed
	CascadeOnRemoval bool
}

// Dispatcher routes parsed events to the handler for their (category, name).
type Dispatcher struct {
	repos    storage.Repositories
	registry Registry
	emitter  emitter.Emitter
	opts     Options
	handlers map[key]HandlerFunc
	log      *logger.Logger
}

func NewDispatcher(repos storage.Repositories, registry Registry, em emitter.Emitter, opts Options) *Dispatcher {
	if em == nil {
		em = emitter.Discard{}
	}
	d := &Dispatcher{
		repos:    repos,
		registry: registry,
		emitter:  em,
		opts:     opts,
		log:      logger.Default().With("component", "handler"),
	}

	d.handlers = map[key]HandlerFunc{
		{domain.CategoryAdmin, contracts.EventCommunityAdded}:    d.communityAdded,
		{domain.CategoryAdmin, contracts.EventCommunityRemoved}:  d.communityRemoved,
		{domain.CategoryAdmin, contracts.EventCommunityMigrated}: d.communityMigrated,

		{domain.CategoryCommunity, contracts.EventBeneficiaryAdded}:    d.beneficiaryState(domain.BeneficiaryStateActive),
		{domain.CategoryCommunity, contracts.EventBeneficiaryRemoved}:  d.beneficiaryState(domain.BeneficiaryStateInactive),
		{domain.CategoryCommunity, contracts.EventBeneficiaryLocked}:   d.beneficiaryState(domain.BeneficiaryStateLocked),
		{domain.CategoryCommunity, contracts.EventBeneficiaryUnlocked}: d.beneficiaryState(domain.BeneficiaryStateActive),
		{domain.CategoryCommunity, contracts.EventManagerAdded}:        d.managerState(true),
		{domain.CategoryCommunity, contracts.EventManagerRemoved}:      d.managerState(false),

		{domain.CategoryProtocol, contracts.EventLoanAdded}:      d.loanAdded,
		{domain.CategoryProtocol, contracts.EventLoanClaimed}:    d.loanClaimed,
		{domain.CategoryProtocol, contracts.EventRepaymentAdded}: d.repaymentAdded,
	}
	return d
}

// Dispatch runs the handler registered for ev. Events without a handler are
// ignored. The returned error carries the event name and version; callers
// log it and move on.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *domain.ParsedEvent) error {
	h, ok := d.handlers[key{ev.Category, ev.Name}]
	if !ok {
		d.log.Debug("No handler for event", "category", ev.Category, "event", ev.Name)
		metrics.EventsHandled.WithLabelValues(string(ev.Category), ev.Name, "ignored").Inc()
		return nil
	}

	applied, err := h(ctx, ev)
	if err != nil {
		kind := AnomalyKind(err)
		result := "failed"
		if kind != metrics.AnomalyHandlerFailed {
			result = "skipped"
		}
		metrics.EventsHandled.WithLabelValues(string(ev.Category), ev.Name, result).Inc()
		metrics.Anomalies.WithLabelValues(kind).Inc()
		return fmt.Errorf("%s at %s: %w", ev.Name, ev.Version(), err)
	}

	result := "applied"
	if !applied {
		result = "stale"
	}
	metrics.EventsHandled.WithLabelValues(string(ev.Category), ev.Name, result).Inc()
	return nil
}

// Handles reports whether a handler is registered for the pair.
func (d *Dispatcher) Handles(category domain.Category, name string) bool {
	_, ok := d.handlers[key{category, name}]
	return ok
}

// AnomalyKind maps a dispatch error to its anomaly metric label.
func AnomalyKind(err error) string {
	switch {
	case errors.Is(err, ErrUnregisteredCommunity):
		return metrics.AnomalyUnregistered
	case errors.Is(err, ErrNoPendingRequest):
		return metrics.AnomalyNoPendingRequest
	case errors.Is(err, ErrMissingReference):
		return metrics.AnomalyMissingReference
	case errors.Is(err, ErrBadArgs):
		return metrics.AnomalyDecodeFailed
	default:
		return metrics.AnomalyHandlerFailed
	}
}

// IsSkip reports whether err is an expected referential or argument skip
// rather than a persistence failure.
func IsSkip(err error) bool {
	return AnomalyKind(err) != metrics.AnomalyHandlerFailed
}

// LogDispatchError logs a dispatch error with the source log position.
func LogDispatchError(log *logger.Logger, ev *domain.ParsedEvent, err error) {
	attrs := []any{
		"event", ev.Name,
		"address", ev.Log.Address.Hex(),
		"block", ev.Log.BlockNumber,
		"log_index", ev.Log.Index,
		"tx", ev.Log.TxHash.Hex(),
		"error", err,
	}
	if IsSkip(err) {
		log.Warn("Event skipped", attrs...)
		return
	}
	log.Error("Event handler failed", attrs...)
}

func address(ev *domain.ParsedEvent, name string) (common.Address, error) {
	a, ok := ev.Address(name)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s", ErrBadArgs, name)
	}
	return a, nil
}

func bigString(ev *domain.ParsedEvent, name string) (string, error) {
	v, ok := ev.BigInt(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBadArgs, name)
	}
	return v.String(), nil
}

func uint64Arg(ev *domain.ParsedEvent, name string) (uint64, error) {
	v, ok := ev.BigInt(name)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrBadArgs, name)
	}
	return v.Uint64(), nil
}
