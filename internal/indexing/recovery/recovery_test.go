package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/impactwatcher/internal/contracts"
	"github.com/vietddude/impactwatcher/internal/core/checkpoint"
	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/handler"
	"github.com/vietddude/impactwatcher/internal/indexing/registry"
	"github.com/vietddude/impactwatcher/internal/indexing/router"
	"github.com/vietddude/impactwatcher/internal/infra/chain/evm"
	"github.com/vietddude/impactwatcher/internal/infra/rpc"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/provider"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/routing"
	"github.com/vietddude/impactwatcher/internal/infra/storage"
	"github.com/vietddude/impactwatcher/internal/infra/storage/memory"
)

const chainID = domain.ChainIDAlfajores

var (
	adminAddr     = common.HexToAddress("0xa000000000000000000000000000000000000001")
	protocolAddr  = common.HexToAddress("0xb000000000000000000000000000000000000002")
	communityAddr = common.HexToAddress("0xc000000000000000000000000000000000000003")
	managerAddr   = common.HexToAddress("0xd000000000000000000000000000000000000004")
	addrX         = common.HexToAddress("0x1000000000000000000000000000000000000001")
	addrY         = common.HexToAddress("0x1000000000000000000000000000000000000002")
	addrZ         = common.HexToAddress("0x1000000000000000000000000000000000000003")
)

// =============================================================================
// Mock Source
// =============================================================================

type fakeSource struct {
	mu       sync.Mutex
	head     uint64
	logs     []types.Log
	failures int
	ranges   [][2]uint64
}

func (s *fakeSource) LatestBlock(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return 0, fmt.Errorf("eth_blockNumber: %w: %w", evm.ErrSourceUnavailable, errors.New("connection refused"))
	}
	return s.head, nil
}

func (s *fakeSource) GetLogsRange(ctx context.Context, from, to uint64, topics []common.Hash, fn func(from, to uint64, logs []types.Log) error) error {
	s.mu.Lock()
	s.ranges = append(s.ranges, [2]uint64{from, to})
	var out []types.Log
	for _, l := range s.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	s.mu.Unlock()
	return fn(from, to, out)
}

// =============================================================================
// Fixtures
// =============================================================================

type world struct {
	repos      storage.Repositories
	registry   *registry.Registry
	router     *router.Router
	dispatcher *handler.Dispatcher
}

// newWorld returns an empty model with one pending community request by
// managerAddr.
func newWorld(t *testing.T) *world {
	t.Helper()
	repos := memory.NewMemoryStorage().Repositories()
	reg := registry.New()
	if _, err := repos.Communities.Create(context.Background(), &domain.Community{
		RequestByAddress: domain.NormalizeAddress(managerAddr),
	}); err != nil {
		t.Fatal(err)
	}
	return &world{
		repos:      repos,
		registry:   reg,
		router:     router.New(adminAddr, protocolAddr, reg),
		dispatcher: handler.NewDispatcher(repos, reg, nil, handler.Options{}),
	}
}

type snapshot struct {
	communityStatus domain.CommunityStatus
	beneficiaries   map[string]domain.BeneficiaryState
	managers        map[string]bool
}

func (w *world) snapshot(t *testing.T) snapshot {
	t.Helper()
	ctx := context.Background()
	s := snapshot{beneficiaries: map[string]domain.BeneficiaryState{}, managers: map[string]bool{}}

	c, err := w.repos.Communities.GetByContract(ctx, domain.NormalizeAddress(communityAddr))
	if err != nil {
		return s
	}
	s.communityStatus = c.Status
	for _, a := range []common.Address{addrX, addrY, addrZ} {
		key := domain.NormalizeAddress(a)
		if b, err := w.repos.Beneficiaries.Get(ctx, c.ID, key); err == nil {
			s.beneficiaries[key] = b.State
		}
		if m, err := w.repos.Managers.Get(ctx, c.ID, key); err == nil {
			s.managers[key] = m.Active
		}
	}
	return s
}

func (s snapshot) equal(o snapshot) bool {
	if s.communityStatus != o.communityStatus || len(s.beneficiaries) != len(o.beneficiaries) || len(s.managers) != len(o.managers) {
		return false
	}
	for k, v := range s.beneficiaries {
		if o.beneficiaries[k] != v {
			return false
		}
	}
	for k, v := range s.managers {
		if o.managers[k] != v {
			return false
		}
	}
	return true
}

func buildLog(t *testing.T, s *contracts.Schema, addr common.Address, name string, args map[string]any, block uint64) types.Log {
	t.Helper()
	l, err := s.BuildLog(addr, name, args)
	if err != nil {
		t.Fatalf("BuildLog %s: %v", name, err)
	}
	l.BlockNumber = block
	l.TxHash = common.BigToHash(new(big.Int).SetUint64(block))
	l.BlockHash = common.BigToHash(new(big.Int).SetUint64(block + 1<<32))
	return l
}

// syntheticLogs returns one log per block 101..105, in block order.
func syntheticLogs(t *testing.T) []types.Log {
	member := func(name string, who common.Address, block uint64) types.Log {
		return buildLog(t, contracts.Community, communityAddr, name, map[string]any{
			"manager":     managerAddr,
			"beneficiary": who,
		}, block)
	}
	return []types.Log{
		buildLog(t, contracts.Admin, adminAddr, contracts.EventCommunityAdded, map[string]any{
			"communityAddress":  communityAddr,
			"managerAddress":    managerAddr,
			"claimAmount":       big.NewInt(1),
			"maxClaim":          big.NewInt(10),
			"baseInterval":      big.NewInt(100),
			"incrementInterval": big.NewInt(10),
		}, 101),
		member(contracts.EventBeneficiaryAdded, addrX, 102),
		member(contracts.EventBeneficiaryAdded, addrY, 103),
		member(contracts.EventBeneficiaryRemoved, addrX, 104),
		buildLog(t, contracts.Community, communityAddr, contracts.EventManagerAdded, map[string]any{
			"manager": managerAddr,
			"account": addrZ,
		}, 105),
	}
}

// expected processes logs directly in order.
func expected(t *testing.T, logs []types.Log) snapshot {
	t.Helper()
	w := newWorld(t)
	for _, l := range logs {
		if ev, ok := w.router.Route(l); ok {
			if err := w.dispatcher.Dispatch(context.Background(), ev); err != nil {
				t.Fatalf("direct dispatch: %v", err)
			}
		}
	}
	return w.snapshot(t)
}

func newCoordinator(w *world, src Source, cp Checkpointer, retry RetryStrategy) *Coordinator {
	return NewCoordinator(Config{
		ChainID: chainID,
		Genesis: 1,
		Topics:  w.router.Topics(),
		Retry:   retry,
	}, src, w.router, w.dispatcher, cp)
}

// =============================================================================
// Tests
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateRunning, true},
		{StateIdle, StateCompleted, false},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateAborted, true},
		{StateAborted, StateRunning, true},
		{StateCompleted, StateRunning, false},
		{StateCompleted, StateAborted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRecovery_Completeness(t *testing.T) {
	ctx := context.Background()
	logs := syntheticLogs(t)
	want := expected(t, logs)

	store := memory.NewCheckpointStore()
	store.SetLastProcessedBlock(ctx, 100)
	mgr := checkpoint.NewManager(chainID, store)

	// Delivered out of order; recovery must sort.
	src := &fakeSource{head: 105, logs: []types.Log{logs[4], logs[1], logs[0], logs[3], logs[2]}}
	w := newWorld(t)
	c := newCoordinator(w, src, mgr, nil)

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := w.snapshot(t); !got.equal(want) {
		t.Errorf("recovered state %+v, want %+v", got, want)
	}
	if c.State() != StateCompleted {
		t.Errorf("state %s, want completed", c.State())
	}
	marked, _ := store.IsRecoveryMarked(ctx)
	if marked {
		t.Error("expected recovery marker cleared")
	}
	if block, _, _ := store.GetLastProcessedBlock(ctx); block != 105 {
		t.Errorf("checkpoint %d, want 105", block)
	}
	if len(src.ranges) != 1 || src.ranges[0] != [2]uint64{100, 105} {
		t.Errorf("unexpected fetch ranges %v", src.ranges)
	}
	st := c.Status()
	if st.Fetched != 5 || st.Dispatched != 5 {
		t.Errorf("status %+v", st)
	}

	// A second pass over the same logs changes nothing.
	if err := c.Run(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected completed coordinator to refuse a rerun, got %v", err)
	}
	again := newCoordinator(w, src, mgr, nil)
	if err := again.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := w.snapshot(t); !got.equal(want) {
		t.Errorf("replayed state %+v, want %+v", got, want)
	}
}

func TestRecovery_LiveFlushBeforeLoadDoesNotSkipRange(t *testing.T) {
	ctx := context.Background()
	logs := syntheticLogs(t)
	want := expected(t, logs)

	store := memory.NewCheckpointStore()
	store.SetLastProcessedBlock(ctx, 100)
	mgr := checkpoint.NewManager(chainID, store)

	// Live handled block 106 before the coordinator loaded the checkpoint.
	if err := mgr.Advance(ctx, 106); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if block, _, _ := store.GetLastProcessedBlock(ctx); block != 100 {
		t.Fatalf("live flush reached the store before recovery: %d", block)
	}

	src := &fakeSource{head: 105, logs: logs}
	w := newWorld(t)
	c := newCoordinator(w, src, mgr, nil)
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(src.ranges) != 1 || src.ranges[0] != [2]uint64{100, 105} {
		t.Errorf("expected replay of [100 105], got %v", src.ranges)
	}
	if got := w.snapshot(t); !got.equal(want) {
		t.Errorf("recovered state %+v, want %+v", got, want)
	}
	if block, _, _ := store.GetLastProcessedBlock(ctx); block != 106 {
		t.Errorf("checkpoint %d, want held live block 106", block)
	}
}

func TestRecovery_NoCheckpointStartsAtGenesis(t *testing.T) {
	src := &fakeSource{head: 3}
	w := newWorld(t)
	c := newCoordinator(w, src, checkpoint.NewManager(chainID, memory.NewCheckpointStore()), nil)

	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(src.ranges) != 1 || src.ranges[0][0] != 1 {
		t.Errorf("expected scan from genesis 1, got %v", src.ranges)
	}
}

func TestRecovery_SourceUnavailableAborts(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCheckpointStore()
	store.SetLastProcessedBlock(ctx, 100)
	mgr := checkpoint.NewManager(chainID, store)

	src := &fakeSource{head: 105, failures: 1}
	w := newWorld(t)
	c := newCoordinator(w, src, mgr, nil)

	err := c.Run(ctx)
	if !errors.Is(err, evm.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if c.State() != StateAborted {
		t.Errorf("state %s, want aborted", c.State())
	}
	if marked, _ := store.IsRecoveryMarked(ctx); !marked {
		t.Error("expected marker left set")
	}
	if block, _, _ := store.GetLastProcessedBlock(ctx); block != 100 {
		t.Errorf("checkpoint moved to %d", block)
	}
	if c.Status().LastError == "" {
		t.Error("expected last error in status")
	}

	// Next start replays from the same point.
	cp, _ := mgr.Load(ctx)
	if !cp.Recovering || cp.LastProcessedBlock != 100 {
		t.Errorf("unexpected checkpoint after abort: %+v", cp)
	}
}

func TestRecovery_RetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	logs := syntheticLogs(t)
	store := memory.NewCheckpointStore()
	store.SetLastProcessedBlock(ctx, 100)

	src := &fakeSource{head: 105, logs: logs, failures: 2}
	w := newWorld(t)
	retry := &ExponentialBackoff{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3}
	c := newCoordinator(w, src, checkpoint.NewManager(chainID, store), retry)

	if err := c.Run(ctx); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if st := c.Status(); st.Attempts != 3 || st.State != "completed" {
		t.Errorf("status %+v", st)
	}
	if got, want := w.snapshot(t), expected(t, logs); !got.equal(want) {
		t.Errorf("state %+v, want %+v", got, want)
	}
}

func TestExponentialBackoff(t *testing.T) {
	s := DefaultBackoff(3)
	if d := s.GetDelay(0); d != 2*time.Second {
		t.Errorf("GetDelay(0) = %v", d)
	}
	if d := s.GetDelay(10); d != 60*time.Second {
		t.Errorf("GetDelay(10) = %v, want cap", d)
	}
	transient := fmt.Errorf("x: %w", evm.ErrSourceUnavailable)
	if !s.ShouldRetry(transient, 2) || s.ShouldRetry(transient, 3) {
		t.Error("attempt limit not honored")
	}
	if s.ShouldRetry(errors.New("bad config"), 0) {
		t.Error("permanent error retried")
	}
}

// =============================================================================
// Fallback, end to end through the JSON-RPC client
// =============================================================================

// jsonNode serves eth_blockNumber and eth_getLogs from go-ethereum logs.
type jsonNode struct {
	head uint64
	logs []types.Log
}

func (n *jsonNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	var result any
	switch req.Method {
	case "eth_blockNumber":
		result = fmt.Sprintf("0x%x", n.head)
	case "eth_getLogs":
		var f struct {
			FromBlock string `json:"fromBlock"`
			ToBlock   string `json:"toBlock"`
		}
		json.Unmarshal(req.Params[0], &f)
		var from, to uint64
		fmt.Sscanf(f.FromBlock, "0x%x", &from)
		to = n.head
		if f.ToBlock != "latest" {
			fmt.Sscanf(f.ToBlock, "0x%x", &to)
		}
		out := []types.Log{}
		for _, l := range n.logs {
			if l.BlockNumber >= from && l.BlockNumber <= to {
				out = append(out, l)
			}
		}
		result = out
	}
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
}

func TestRecovery_FallbackEndpoint(t *testing.T) {
	ctx := context.Background()
	logs := syntheticLogs(t)
	want := expected(t, logs)

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(&jsonNode{head: 105, logs: logs})
	defer fallback.Close()

	rt := routing.NewRouter()
	rt.AddProvider(chainID, provider.NewHTTPProvider("primary", primary.URL, time.Second))
	rt.AddProvider(chainID, provider.NewHTTPProvider("fallback", fallback.URL, time.Second))
	client := rpc.NewClient(chainID, rt, routing.RetryConfig{MaxAttempts: 1})
	src := evm.NewSource(chainID, client, 0)

	store := memory.NewCheckpointStore()
	store.SetLastProcessedBlock(ctx, 100)
	w := newWorld(t)
	c := newCoordinator(w, src, checkpoint.NewManager(chainID, store), nil)

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := w.snapshot(t); !got.equal(want) {
		t.Errorf("state %+v, want %+v", got, want)
	}
	if marked, _ := store.IsRecoveryMarked(ctx); marked {
		t.Error("expected marker cleared")
	}
}
