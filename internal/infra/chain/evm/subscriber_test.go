package evm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/routing"
)

type fakeLogClient struct {
	logs   []types.Log
	drop   bool
	closed atomic.Bool
}

func (f *fakeLogClient) SubscribeFilterLogs(
	ctx context.Context,
	q ethereum.FilterQuery,
	ch chan<- types.Log,
) (ethereum.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for _, l := range f.logs {
			select {
			case ch <- l:
			case <-quit:
				return nil
			}
		}
		if f.drop {
			return errors.New("websocket: close 1006")
		}
		<-quit
		return nil
	}), nil
}

func (f *fakeLogClient) Close() { f.closed.Store(true) }

// scriptedDialer hands out one client per dial; exhausted scripts fail.
type scriptedDialer struct {
	mu      sync.Mutex
	clients []LogClient
	errs    []error
	dials   int
}

func (d *scriptedDialer) Dial(ctx context.Context, url string) (LogClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	d.dials++
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if i < len(d.clients) && d.clients[i] != nil {
		return d.clients[i], nil
	}
	return nil, errors.New("no more clients")
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type logSink struct {
	mu   sync.Mutex
	logs []types.Log
}

func (s *logSink) add(l types.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
}

func (s *logSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

var fastReconnect = routing.RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffMultiple: 2}

func TestSubscriber_DeliversAndSkipsRemoved(t *testing.T) {
	client := &fakeLogClient{logs: []types.Log{
		{BlockNumber: 1, Index: 0},
		{BlockNumber: 1, Index: 1, Removed: true},
		{BlockNumber: 2, Index: 0},
	}}
	d := &scriptedDialer{clients: []LogClient{client}}
	s := NewSubscriber(domain.ChainIDAlfajores, "ws://node", d.Dial, fastReconnect)

	sink := &logSink{}
	sub, err := s.Subscribe(context.Background(), []common.Hash{testTopic}, sink.add)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool { return sink.len() == 2 })
	if !sub.Connected() {
		t.Error("expected connected subscription")
	}

	sub.Close()
	if sub.Connected() {
		t.Error("expected disconnected after Close")
	}
	if !client.closed.Load() {
		t.Error("expected client closed after Close")
	}
	if sink.logs[0].BlockNumber != 1 || sink.logs[1].BlockNumber != 2 {
		t.Errorf("unexpected delivery order %+v", sink.logs)
	}
}

func TestSubscriber_ReconnectsSilently(t *testing.T) {
	first := &fakeLogClient{logs: []types.Log{{BlockNumber: 10}}, drop: true}
	second := &fakeLogClient{logs: []types.Log{{BlockNumber: 11}}}
	d := &scriptedDialer{
		clients: []LogClient{first, nil, second},
		errs:    []error{nil, errors.New("connection refused"), nil},
	}
	s := NewSubscriber(domain.ChainIDAlfajores, "ws://node", d.Dial, fastReconnect)

	sink := &logSink{}
	sub, err := s.Subscribe(context.Background(), nil, sink.add)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sub.Close()

	waitFor(t, func() bool { return sink.len() == 2 })
	if d.count() != 3 {
		t.Errorf("expected 3 dials, got %d", d.count())
	}
	if !first.closed.Load() {
		t.Error("expected dropped client to be closed")
	}
}

func TestSubscriber_NoCallbackAfterClose(t *testing.T) {
	logs := make([]types.Log, 1000)
	for i := range logs {
		logs[i] = types.Log{BlockNumber: uint64(i)}
	}
	d := &scriptedDialer{clients: []LogClient{&fakeLogClient{logs: logs}}}
	s := NewSubscriber(domain.ChainIDAlfajores, "ws://node", d.Dial, fastReconnect)

	var after atomic.Int32
	var closed atomic.Bool
	sub, _ := s.Subscribe(context.Background(), nil, func(types.Log) {
		if closed.Load() {
			after.Add(1)
		}
	})

	sub.Close()
	closed.Store(true)
	time.Sleep(20 * time.Millisecond)

	if after.Load() != 0 {
		t.Errorf("expected no callbacks after Close, got %d", after.Load())
	}
}

func TestSubscriber_NilCallback(t *testing.T) {
	s := NewSubscriber(domain.ChainIDAlfajores, "ws://node", nil, fastReconnect)
	if _, err := s.Subscribe(context.Background(), nil, nil); err == nil {
		t.Error("expected error for nil callback")
	}
}

type fakeBackfiller struct {
	mu       sync.Mutex
	heads    []uint64
	logs     []types.Log
	failHead int
	ranges   [][2]uint64
}

func (b *fakeBackfiller) LatestBlock(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failHead > 0 {
		b.failHead--
		return 0, errors.New("head unavailable")
	}
	head := b.heads[0]
	if len(b.heads) > 1 {
		b.heads = b.heads[1:]
	}
	return head, nil
}

func (b *fakeBackfiller) GetLogsRange(
	ctx context.Context,
	from, to uint64,
	topics []common.Hash,
	fn func(from, to uint64, logs []types.Log) error,
) error {
	b.mu.Lock()
	b.ranges = append(b.ranges, [2]uint64{from, to})
	var window []types.Log
	for _, l := range b.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			window = append(window, l)
		}
	}
	b.mu.Unlock()
	return fn(from, to, window)
}

func (b *fakeBackfiller) fetched() [][2]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][2]uint64(nil), b.ranges...)
}

func (s *logSink) positions() [][2]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][2]uint64, len(s.logs))
	for i, l := range s.logs {
		out[i] = [2]uint64{l.BlockNumber, uint64(l.Index)}
	}
	return out
}

func TestSubscriber_BackfillsGapAfterReconnect(t *testing.T) {
	first := &fakeLogClient{logs: []types.Log{{BlockNumber: 10}}, drop: true}
	second := &fakeLogClient{logs: []types.Log{{BlockNumber: 13}, {BlockNumber: 14}}}
	d := &scriptedDialer{clients: []LogClient{first, second}}

	// Blocks 11 to 13 were mined while the socket was down. Block 10 is
	// already delivered and must not repeat.
	b := &fakeBackfiller{
		heads: []uint64{9, 13},
		logs: []types.Log{
			{BlockNumber: 10},
			{BlockNumber: 12, Index: 1},
			{BlockNumber: 11},
			{BlockNumber: 12, Index: 0},
			{BlockNumber: 12, Index: 2, Removed: true},
			{BlockNumber: 13},
		},
	}
	s := NewSubscriber(domain.ChainIDAlfajores, "ws://node", d.Dial, fastReconnect).WithBackfill(b)

	sink := &logSink{}
	sub, err := s.Subscribe(context.Background(), []common.Hash{testTopic}, sink.add)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool { return sink.len() == 6 })
	sub.Close()

	want := [][2]uint64{{10, 0}, {11, 0}, {12, 0}, {12, 1}, {13, 0}, {14, 0}}
	got := sink.positions()
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered %v, want %v", got, want)
		}
	}
	ranges := b.fetched()
	if len(ranges) != 1 || ranges[0] != [2]uint64{10, 13} {
		t.Errorf("expected one backfill of [10 13], got %v", ranges)
	}
}

func TestSubscriber_NoBackfillOnFirstConnect(t *testing.T) {
	client := &fakeLogClient{logs: []types.Log{{BlockNumber: 5}}}
	d := &scriptedDialer{clients: []LogClient{client}}
	b := &fakeBackfiller{heads: []uint64{7}, logs: []types.Log{{BlockNumber: 3}}}
	s := NewSubscriber(domain.ChainIDAlfajores, "ws://node", d.Dial, fastReconnect).WithBackfill(b)

	sink := &logSink{}
	sub, _ := s.Subscribe(context.Background(), nil, sink.add)
	waitFor(t, func() bool { return sink.len() == 1 })
	sub.Close()

	if ranges := b.fetched(); len(ranges) != 0 {
		t.Errorf("history before the first connection belongs to recovery, got fetches %v", ranges)
	}
}

func TestSubscriber_BackfillFailureRedials(t *testing.T) {
	first := &fakeLogClient{logs: []types.Log{{BlockNumber: 10}}, drop: true}
	second := &fakeLogClient{}
	third := &fakeLogClient{}
	d := &scriptedDialer{clients: []LogClient{first, second, third}}
	b := &fakeBackfiller{heads: []uint64{10, 11}, logs: []types.Log{{BlockNumber: 11}}}
	s := NewSubscriber(domain.ChainIDAlfajores, "ws://node", d.Dial, fastReconnect).WithBackfill(b)

	sink := &logSink{}
	sub, _ := s.Subscribe(context.Background(), nil, func(l types.Log) {
		sink.add(l)
		if l.BlockNumber == 10 {
			// The next head lookup happens on the reconnect.
			b.mu.Lock()
			b.failHead = 1
			b.mu.Unlock()
		}
	})
	defer sub.Close()

	waitFor(t, func() bool { return sink.len() == 2 })
	if d.count() != 3 {
		t.Errorf("expected a redial after the failed backfill, got %d dials", d.count())
	}
	if !second.closed.Load() {
		t.Error("expected the session with the failed backfill to be closed")
	}
	if got := sink.positions(); got[1] != [2]uint64{11, 0} {
		t.Errorf("expected block 11 from backfill, got %v", got)
	}
}
