// Package router classifies raw logs by emitting contract and decodes them
// against the matching schema.
package router

import (
	"context"
	"errors"
	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/impactwatcher/internal/contracts"
	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/metrics"
)

var (
	// ErrUnroutable means the emitter is none of the known contracts
	ErrUnroutable = errors.New("unroutable log")

	// ErrUnknownEvent means topic0 is not in the emitter's schema
	ErrUnknownEvent = contracts.ErrUnknownEvent
)

// Resolver answers whether an address is a registered community contract.
type Resolver interface {
	Resolve(addr common.Address) (int64, bool)
}

// Router dispatches logs to a schema by emitter address:
// the admin contract first, then registered communities, then the protocol
// contract. Anything else is dropped.
type Router struct {
	admin    common.Address
	protocol common.Address
	registry Resolver
	log      *logger.Logger
}

func New(admin, protocol common.Address, registry Resolver) *Router {
	return &Router{
		admin:    admin,
		protocol: protocol,
		registry: registry,
		log:      logger.Default().With("component", "router"),
	}
}

// Route decodes l. It never fails loudly: logs that cannot be routed or
// decoded are counted and reported as not ok. Undecodable logs are also
// logged at Warn.
func (r *Router) Route(l types.Log) (*domain.ParsedEvent, bool) {
	schema, err := r.schemaFor(l.Address)
	if err != nil {
		r.anomaly(metrics.AnomalyUnroutable, l, err)
		return nil, false
	}

	ev, err := schema.Decode(l)
	if err != nil {
		kind := metrics.AnomalyDecodeFailed
		if errors.Is(err, contracts.ErrUnknownEvent) {
			kind = metrics.AnomalyUnknownEvent
		}
		r.anomaly(kind, l, err)
		return nil, false
	}
	return ev, true
}

func (r *Router) schemaFor(addr common.Address) (*contracts.Schema, error) {
	if addr == r.admin {
		return contracts.Admin, nil
	}
	if _, ok := r.registry.Resolve(addr); ok {
		return contracts.Community, nil
	}
	if addr == r.protocol {
		return contracts.Protocol, nil
	}
	return nil, ErrUnroutable
}

func (r *Router) anomaly(kind string, l types.Log, err error) {
	metrics.Anomalies.WithLabelValues(kind).Inc()

	// Foreign contracts matching the topic filter are routine; only count them.
	level := logger.LevelWarn
	if kind == metrics.AnomalyUnroutable {
		level = logger.LevelDebug
	}
	r.log.Log(context.Background(), level, "Dropping log",
		"kind", kind,
		"address", l.Address.Hex(),
		"block", l.BlockNumber,
		"log_index", l.Index,
		"tx", l.TxHash.Hex(),
		"error", err,
	)
}

// Topics returns the deduplicated topic0 filter covering all three schemas.
func (r *Router) Topics() []common.Hash {
	seen := make(map[common.Hash]struct{})
	var out []common.Hash
	for _, s := range []*contracts.Schema{contracts.Admin, contracts.Community, contracts.Protocol} {
		for _, t := range s.Topics() {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}
