package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogSource is the pull side of the chain boundary: historical logs over
// request/response RPC. Implementations fail over between endpoints
// internally and only report an error when every endpoint failed.
type LogSource interface {
	// LatestBlock returns the current head of the chain
	LatestBlock(ctx context.Context) (uint64, error)

	// GetLogs returns logs in [from, to] whose first topic is one of topics.
	// to == 0 means "latest". The result is not ordered.
	GetLogs(ctx context.Context, from, to uint64, topics []common.Hash) ([]types.Log, error)

	// GetLogsRange walks [from, to] in bounded windows, calling fn once per
	// window in ascending order. It stops at the first error.
	GetLogsRange(
		ctx context.Context,
		from, to uint64,
		topics []common.Hash,
		fn func(from, to uint64, logs []types.Log) error,
	) error
}

// Subscription is a live log feed. Close returns only after the delivery
// goroutine has exited, so no callback runs afterwards.
type Subscription interface {
	Close()
	Connected() bool
}

// LogSubscriber is the push side of the chain boundary.
type LogSubscriber interface {
	// Subscribe starts delivering matching logs to onLog. Connection drops
	// are retried internally and are not reported to the caller.
	Subscribe(ctx context.Context, topics []common.Hash, onLog func(types.Log)) (Subscription, error)
}
