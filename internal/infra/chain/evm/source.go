package evm

import (
	"context"
	"errors"
	"fmt"
	logger "log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/metrics"
)

// ErrSourceUnavailable means every configured endpoint failed the request.
var ErrSourceUnavailable = errors.New("event source unavailable")

// DefaultMaxLogRange bounds a single eth_getLogs window.
const DefaultMaxLogRange = 5000

// Caller is the failover JSON-RPC client used by Source.
type Caller interface {
	Call(ctx context.Context, out any, method string, params ...any) error
}

// Source reads historical logs through a failover RPC client.
type Source struct {
	chainID  domain.ChainID
	client   Caller
	maxRange uint64
	log      *logger.Logger
}

func NewSource(chainID domain.ChainID, client Caller, maxRange uint64) *Source {
	if maxRange == 0 {
		maxRange = DefaultMaxLogRange
	}
	return &Source{
		chainID:  chainID,
		client:   client,
		maxRange: maxRange,
		log:      logger.Default().With("component", "source", "chain", chainID),
	}
}

func (s *Source) LatestBlock(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := s.client.Call(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w: %w", ErrSourceUnavailable, err)
	}
	metrics.ChainLatestBlock.WithLabelValues(string(s.chainID)).Set(float64(head))
	return uint64(head), nil
}

type filterArg struct {
	FromBlock string          `json:"fromBlock"`
	ToBlock   string          `json:"toBlock"`
	Topics    [][]common.Hash `json:"topics,omitempty"`
}

func (s *Source) GetLogs(ctx context.Context, from, to uint64, topics []common.Hash) ([]types.Log, error) {
	arg := filterArg{
		FromBlock: hexutil.EncodeUint64(from),
		ToBlock:   "latest",
	}
	if to != 0 {
		arg.ToBlock = hexutil.EncodeUint64(to)
	}
	if len(topics) > 0 {
		arg.Topics = [][]common.Hash{topics}
	}

	var logs []types.Log
	if err := s.client.Call(ctx, &logs, "eth_getLogs", arg); err != nil {
		return nil, fmt.Errorf("eth_getLogs [%d, %s]: %w: %w", from, arg.ToBlock, ErrSourceUnavailable, err)
	}
	metrics.LogsReceived.WithLabelValues("history").Add(float64(len(logs)))
	return logs, nil
}

func (s *Source) GetLogsRange(
	ctx context.Context,
	from, to uint64,
	topics []common.Hash,
	fn func(from, to uint64, logs []types.Log) error,
) error {
	for start := from; start <= to; {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+s.maxRange-1, to)

		logs, err := s.GetLogs(ctx, start, end, topics)
		if err != nil {
			return err
		}
		s.log.Debug("Fetched log window", "from", start, "to", end, "logs", len(logs))
		if err := fn(start, end, logs); err != nil {
			return err
		}

		if end == to {
			break
		}
		start = end + 1
	}
	return nil
}
