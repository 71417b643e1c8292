// Package routing handles provider ordering and failover logic.
//
// This package contains:
//   - Router: interface for provider selection and health tracking
//   - DefaultRouter: priority-ordered implementation with circuit breaker
//   - Retry: retry logic with exponential backoff and failover
package routing

import (
	"sync"
	"time"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/provider"
)

// circuitThreshold is the number of consecutive failures that opens a circuit.
const circuitThreshold = 5

// Router handles provider selection and health tracking.
type Router interface {
	// AddProvider registers a provider for a chain. Registration order is
	// priority order.
	AddProvider(chainID domain.ChainID, p provider.Provider)

	// Providers returns the providers to try for a call, best first
	Providers(chainID domain.ChainID) []provider.Provider

	// GetAllProviders returns all providers for a chain in registration order
	GetAllProviders(chainID domain.ChainID) []provider.Provider

	// RecordSuccess tracks successful calls
	RecordSuccess(providerName string, latency time.Duration)

	// RecordFailure tracks failed calls
	RecordFailure(providerName string, err error)
}

type providerMetrics struct {
	successCount     int
	failureCount     int
	totalLatency     time.Duration
	lastSuccessAt    time.Time
	lastFailureAt    time.Time
	lastError        string
	consecutiveFails int
	circuitOpen      bool
}

// ProviderState is a read-only snapshot for health reporting.
type ProviderState struct {
	Name             string        `json:"name"`
	Status           string        `json:"status"`
	CircuitOpen      bool          `json:"circuit_open"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	SuccessCount     int           `json:"success_count"`
	FailureCount     int           `json:"failure_count"`
	AverageLatency   time.Duration `json:"average_latency"`
	LastError        string        `json:"last_error,omitempty"`
}

// DefaultRouter keeps providers in priority order. Providers whose circuit is
// open or that are throttled are moved behind the healthy ones but never
// removed, so a call still reaches them when everything else is down.
type DefaultRouter struct {
	mu             sync.RWMutex
	chainProviders map[domain.ChainID][]provider.Provider
	providerHealth map[string]*providerMetrics
}

// NewRouter creates a new router.
func NewRouter() *DefaultRouter {
	return &DefaultRouter{
		chainProviders: make(map[domain.ChainID][]provider.Provider),
		providerHealth: make(map[string]*providerMetrics),
	}
}

// AddProvider registers a provider for a chain.
func (r *DefaultRouter) AddProvider(chainID domain.ChainID, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.chainProviders[chainID] = append(r.chainProviders[chainID], p)
	r.providerHealth[p.GetName()] = &providerMetrics{
		lastSuccessAt: time.Now(),
	}
}

// Providers returns providers in priority order with degraded ones last.
func (r *DefaultRouter) Providers(chainID domain.ChainID) []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := r.chainProviders[chainID]
	healthy := make([]provider.Provider, 0, len(providers))
	var degraded []provider.Provider
	for _, p := range providers {
		m := r.providerHealth[p.GetName()]
		if (m != nil && m.circuitOpen) || !p.IsAvailable() {
			degraded = append(degraded, p)
			continue
		}
		healthy = append(healthy, p)
	}
	return append(healthy, degraded...)
}

// GetAllProviders returns all providers for a chain.
func (r *DefaultRouter) GetAllProviders(chainID domain.ChainID) []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := r.chainProviders[chainID]
	result := make([]provider.Provider, len(providers))
	copy(result, providers)
	return result
}

// RecordSuccess records a successful call and closes the circuit.
func (r *DefaultRouter) RecordSuccess(providerName string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.providerHealth[providerName]
	if !ok {
		return
	}

	metrics.successCount++
	metrics.totalLatency += latency
	metrics.lastSuccessAt = time.Now()
	metrics.consecutiveFails = 0
	metrics.circuitOpen = false
}

// RecordFailure records a failed call.
func (r *DefaultRouter) RecordFailure(providerName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.providerHealth[providerName]
	if !ok {
		return
	}

	metrics.failureCount++
	metrics.lastFailureAt = time.Now()
	metrics.consecutiveFails++
	if err != nil {
		metrics.lastError = err.Error()
	}

	if metrics.consecutiveFails >= circuitThreshold {
		metrics.circuitOpen = true
	}
}

// States returns a snapshot of every provider registered for a chain.
func (r *DefaultRouter) States(chainID domain.ChainID) []ProviderState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := r.chainProviders[chainID]
	out := make([]ProviderState, 0, len(providers))
	for _, p := range providers {
		st := ProviderState{Name: p.GetName(), Status: "healthy"}
		if h := p.GetHealth(); h.MonitorStats != nil {
			st.Status = h.MonitorStats.Status.String()
		}
		if m := r.providerHealth[p.GetName()]; m != nil {
			st.CircuitOpen = m.circuitOpen
			st.ConsecutiveFails = m.consecutiveFails
			st.SuccessCount = m.successCount
			st.FailureCount = m.failureCount
			st.LastError = m.lastError
			if m.successCount > 0 {
				st.AverageLatency = m.totalLatency / time.Duration(m.successCount)
			}
		}
		out = append(out, st)
	}
	return out
}
