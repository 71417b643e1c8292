package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vietddude/impactwatcher/internal/core/checkpoint"
	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/live"
	"github.com/vietddude/impactwatcher/internal/indexing/recovery"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/routing"
)

// =============================================================================
// Mocks
// =============================================================================

type mockHead struct {
	height uint64
	err    error
	calls  int
}

func (m *mockHead) LatestBlock(ctx context.Context) (uint64, error) {
	m.calls++
	return m.height, m.err
}

type stubCheckpoint struct {
	flushed uint64
	ok      bool
	holding bool
}

func (s stubCheckpoint) Flushed() (uint64, bool) { return s.flushed, s.ok }
func (s stubCheckpoint) Holding() bool           { return s.holding }
func (s stubCheckpoint) GetMetrics() checkpoint.Metrics {
	return checkpoint.Metrics{FlushCount: 1}
}

func (s stubCheckpoint) GetLag(head uint64) int64 {
	if !s.ok {
		return int64(head)
	}
	return int64(head) - int64(s.flushed)
}

type stubRecovery struct{ status recovery.Status }

func (s stubRecovery) Status() recovery.Status { return s.status }

type stubLive struct{ status live.Status }

func (s stubLive) Status() live.Status { return s.status }

type stubProviders struct{ states []routing.ProviderState }

func (s stubProviders) States(domain.ChainID) []routing.ProviderState { return s.states }

type stubRegistry int

func (s stubRegistry) Size() int { return int(s) }

func healthyComponents() Components {
	return Components{
		Head:       &mockHead{height: 150},
		Checkpoint: stubCheckpoint{flushed: 140, ok: true},
		Recovery:   stubRecovery{recovery.Status{State: recovery.StateCompleted.String()}},
		Live:       stubLive{live.Status{Running: true, Connected: true}},
		Providers:  stubProviders{[]routing.ProviderState{{Name: "primary"}, {Name: "fallback"}}},
		Registry:   stubRegistry(3),
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_CheckHealth(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Components)
		want   SystemStatus
	}{
		{
			name:   "healthy",
			mutate: func(c *Components) {},
			want:   StatusHealthy,
		},
		{
			name: "recovery aborted",
			mutate: func(c *Components) {
				c.Recovery = stubRecovery{recovery.Status{State: recovery.StateAborted.String()}}
			},
			want: StatusDegraded,
		},
		{
			name: "recovery running",
			mutate: func(c *Components) {
				c.Recovery = stubRecovery{recovery.Status{State: recovery.StateRunning.String()}}
			},
			want: StatusDegraded,
		},
		{
			name: "subscription reconnecting",
			mutate: func(c *Components) {
				c.Live = stubLive{live.Status{Running: true}}
			},
			want: StatusDegraded,
		},
		{
			name: "head unavailable",
			mutate: func(c *Components) {
				c.Head = &mockHead{err: errors.New("rpc down")}
			},
			want: StatusDegraded,
		},
		{
			name: "all circuits open",
			mutate: func(c *Components) {
				c.Providers = stubProviders{[]routing.ProviderState{{Name: "primary", CircuitOpen: true}}}
			},
			want: StatusDegraded,
		},
		{
			name: "live not running",
			mutate: func(c *Components) {
				c.Live = stubLive{live.Status{}}
				c.Recovery = stubRecovery{recovery.Status{State: recovery.StateAborted.String()}}
			},
			want: StatusCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := healthyComponents()
			tt.mutate(&c)
			m := NewMonitor(domain.ChainIDCelo, c)

			report := m.CheckHealth(context.Background())
			h, ok := report[string(domain.ChainIDCelo)]
			if !ok {
				t.Fatalf("chain missing from report")
			}
			if h.Status != tt.want {
				t.Errorf("status = %s, want %s (reasons %v)", h.Status, tt.want, h.Reasons)
			}
			if tt.want != StatusHealthy && len(h.Reasons) == 0 {
				t.Errorf("expected reasons for %s", tt.want)
			}
		})
	}
}

func TestMonitor_Lag(t *testing.T) {
	m := NewMonitor(domain.ChainIDCelo, healthyComponents())
	h := m.CheckHealth(context.Background())[string(domain.ChainIDCelo)]

	if h.Head != 150 || h.Checkpoint != 140 || h.BlockLag != 10 {
		t.Errorf("head/checkpoint/lag = %d/%d/%d, want 150/140/10", h.Head, h.Checkpoint, h.BlockLag)
	}
	if h.Progress.FlushCount != 1 {
		t.Errorf("progress = %+v", h.Progress)
	}
	if h.RegistrySize != 3 {
		t.Errorf("registry size = %d, want 3", h.RegistrySize)
	}
	if len(h.Providers) != 2 {
		t.Errorf("providers = %d, want 2", len(h.Providers))
	}
}

func TestMonitor_Cache(t *testing.T) {
	c := healthyComponents()
	head := c.Head.(*mockHead)
	m := NewMonitor(domain.ChainIDCelo, c)

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	if head.calls != 1 {
		t.Errorf("head fetched %d times, want 1", head.calls)
	}
}

func TestServer_Endpoints(t *testing.T) {
	c := healthyComponents()
	c.Live = stubLive{live.Status{}}
	s := NewServer(NewMonitor(domain.ChainIDCelo, c), 0)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health code = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	var report HealthReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.SystemStatus != StatusCritical {
		t.Errorf("system status = %s, want critical", report.SystemStatus)
	}
}
