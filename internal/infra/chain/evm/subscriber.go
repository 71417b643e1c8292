package evm

import (
	"context"
	"errors"
	"fmt"
	logger "log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/metrics"
	"github.com/vietddude/impactwatcher/internal/infra/chain"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/routing"
)

var errSubscriptionClosed = errors.New("subscription closed by remote")

// LogClient is the part of ethclient.Client the subscriber needs.
type LogClient interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

// Dialer opens a push-capable connection to url.
type Dialer func(ctx context.Context, url string) (LogClient, error)

// DialEthClient dials a websocket (or IPC) endpoint with go-ethereum's client.
func DialEthClient(ctx context.Context, url string) (LogClient, error) {
	return ethclient.DialContext(ctx, url)
}

// DefaultReconnect is the backoff between re-dials after a dropped socket.
var DefaultReconnect = routing.RetryConfig{
	InitialDelay:    time.Second,
	MaxDelay:        30 * time.Second,
	BackoffMultiple: 2,
}

// Backfiller reads the logs a dropped socket missed.
type Backfiller interface {
	LatestBlock(ctx context.Context) (uint64, error)
	GetLogsRange(
		ctx context.Context,
		from, to uint64,
		topics []common.Hash,
		fn func(from, to uint64, logs []types.Log) error,
	) error
}

// Subscriber delivers live logs and hides reconnects from its caller.
type Subscriber struct {
	chainID   domain.ChainID
	url       string
	dial      Dialer
	reconnect routing.RetryConfig
	backfill  Backfiller
	bufSize   int
	log       *logger.Logger
}

func NewSubscriber(chainID domain.ChainID, url string, dial Dialer, reconnect routing.RetryConfig) *Subscriber {
	if dial == nil {
		dial = DialEthClient
	}
	return &Subscriber{
		chainID:   chainID,
		url:       url,
		dial:      dial,
		reconnect: reconnect,
		bufSize:   256,
		log:       logger.Default().With("component", "subscriber", "chain", chainID),
	}
}

// WithBackfill makes every reconnect replay the blocks after the last
// delivered log up to head through b before resuming the stream, so logs
// mined while the socket was down still arrive.
func (s *Subscriber) WithBackfill(b Backfiller) *Subscriber {
	s.backfill = b
	return s
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool

	// Only the delivery goroutine touches mark.
	mark    coverMark
	hasMark bool
}

// coverMark is the position up to which logs have been handed to the
// callback. whole means every log of block is covered.
type coverMark struct {
	block uint64
	index uint
	whole bool
}

func (m coverMark) covers(l types.Log) bool {
	if l.BlockNumber != m.block {
		return l.BlockNumber < m.block
	}
	return m.whole || l.Index <= m.index
}

// advance moves the mark forward only.
func (s *Subscription) advance(next coverMark) {
	if s.hasMark {
		if next.block < s.mark.block {
			return
		}
		if next.block == s.mark.block && (s.mark.whole || !next.whole && next.index <= s.mark.index) {
			return
		}
	}
	s.mark, s.hasMark = next, true
}

// Close stops delivery and waits for the delivery goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Connected reports whether a socket is currently streaming.
func (s *Subscription) Connected() bool {
	return s.connected.Load()
}

// Subscribe returns immediately; the first connection is attempted in the
// background with the same backoff as reconnects. onLog is never called
// concurrently with itself.
func (s *Subscriber) Subscribe(
	ctx context.Context,
	topics []common.Hash,
	onLog func(types.Log),
) (chain.Subscription, error) {
	if onLog == nil {
		return nil, fmt.Errorf("subscribe: nil callback")
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	q := ethereum.FilterQuery{}
	if len(topics) > 0 {
		q.Topics = [][]common.Hash{topics}
	}

	go s.run(ctx, sub, q, topics, onLog)
	return sub, nil
}

func (s *Subscriber) run(
	ctx context.Context,
	sub *Subscription,
	q ethereum.FilterQuery,
	topics []common.Hash,
	onLog func(types.Log),
) {
	defer close(sub.done)

	attempt := 0
	for {
		established, err := s.session(ctx, sub, q, topics, onLog)
		sub.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		if established {
			attempt = 0
		}

		delay := routing.Backoff(attempt, s.reconnect)
		attempt++
		metrics.SubscriptionReconnects.WithLabelValues(string(s.chainID)).Inc()
		s.log.Warn("Live subscription dropped, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// session runs one connection until it fails or ctx is cancelled.
func (s *Subscriber) session(
	ctx context.Context,
	sub *Subscription,
	q ethereum.FilterQuery,
	topics []common.Hash,
	onLog func(types.Log),
) (bool, error) {
	client, err := s.dial(ctx, s.url)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	ch := make(chan types.Log, s.bufSize)
	es, err := client.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return false, fmt.Errorf("subscribe logs: %w", err)
	}
	defer es.Unsubscribe()

	// New logs buffer in ch while the gap is replayed. Anything the replay
	// already delivered is skipped when the buffer drains.
	var (
		replayedThrough uint64
		replayed        bool
	)
	if s.backfill != nil {
		through, ok, err := s.catchUp(ctx, sub, topics, onLog)
		if err != nil {
			return false, fmt.Errorf("backfill: %w", err)
		}
		replayedThrough, replayed = through, ok
	}
	deliver := func(l types.Log) {
		if replayed && l.BlockNumber <= replayedThrough {
			return
		}
		s.deliver(sub, l, onLog)
	}

	sub.connected.Store(true)
	s.log.Info("Live subscription established", "url", s.url)

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case err, ok := <-es.Err():
			if !ok || err == nil {
				err = errSubscriptionClosed
			}
			// Hand over what was already buffered before the drop.
			for {
				select {
				case l := <-ch:
					deliver(l)
				default:
					return true, err
				}
			}
		case l := <-ch:
			deliver(l)
		}
	}
}

func (s *Subscriber) deliver(sub *Subscription, l types.Log, onLog func(types.Log)) {
	// Reorged-out logs are re-delivered with Removed set.
	if l.Removed {
		return
	}
	metrics.LogsReceived.WithLabelValues("live").Inc()
	sub.advance(coverMark{block: l.BlockNumber, index: l.Index})
	onLog(l)
}

// catchUp replays what a dropped socket missed and returns the block it
// replayed through. ok is false when nothing was replayed. On the first
// connection it only records head: earlier blocks belong to recovery.
func (s *Subscriber) catchUp(
	ctx context.Context,
	sub *Subscription,
	topics []common.Hash,
	onLog func(types.Log),
) (through uint64, ok bool, err error) {
	head, err := s.backfill.LatestBlock(ctx)
	if err != nil {
		return 0, false, err
	}
	if !sub.hasMark {
		sub.advance(coverMark{block: head, whole: true})
		return 0, false, nil
	}

	from := sub.mark.block
	if sub.mark.whole {
		from++
	}
	if from > head {
		return 0, false, nil
	}

	replayed := 0
	err = s.backfill.GetLogsRange(ctx, from, head, topics, func(_, _ uint64, logs []types.Log) error {
		sort.Slice(logs, func(i, j int) bool {
			if logs[i].BlockNumber != logs[j].BlockNumber {
				return logs[i].BlockNumber < logs[j].BlockNumber
			}
			return logs[i].Index < logs[j].Index
		})
		for _, l := range logs {
			if l.Removed || sub.mark.covers(l) {
				continue
			}
			metrics.LogsReceived.WithLabelValues("backfill").Inc()
			sub.advance(coverMark{block: l.BlockNumber, index: l.Index})
			onLog(l)
			replayed++
		}
		return ctx.Err()
	})
	if err != nil {
		return 0, false, err
	}
	sub.advance(coverMark{block: head, whole: true})
	s.log.Info("Backfilled logs missed while disconnected", "from", from, "to", head, "logs", replayed)
	return head, true, nil
}
