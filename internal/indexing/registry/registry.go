// Package registry caches which contract addresses are known community
// contracts. It is the only gate between a community log and its handler.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/indexing/metrics"
)

// Loader lists persisted communities that have a deployed contract.
type Loader interface {
	ListDeployed(ctx context.Context) ([]*domain.Community, error)
}

// Registry maps community contract addresses to community ids. Entries are
// never removed: a removed community keeps resolving so its late events still
// land on the right id.
type Registry struct {
	mu      sync.RWMutex
	entries map[common.Address]domain.RegistryEntry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[common.Address]domain.RegistryEntry),
	}
}

// Resolve returns the community id registered for addr.
func (r *Registry) Resolve(addr common.Address) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[addr]
	return e.CommunityID, ok
}

// IsPublic returns the public flag of a registered community.
func (r *Registry) IsPublic(addr common.Address) (public bool, found bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[addr]
	return e.Public, ok
}

// Register adds addr. It returns false and keeps the existing entry when addr
// is already registered.
func (r *Registry) Register(addr common.Address, communityID int64, public bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[addr]; ok {
		return false
	}
	r.entries[addr] = domain.RegistryEntry{
		Address:     addr,
		CommunityID: communityID,
		Public:      public,
	}
	metrics.RegistrySize.Set(float64(len(r.entries)))
	return true
}

// Seed registers every deployed community from loader and returns how many
// were new.
func (r *Registry) Seed(ctx context.Context, loader Loader) (int, error) {
	communities, err := loader.ListDeployed(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list communities: %w", err)
	}

	added := 0
	for _, c := range communities {
		// A migrated community still owns its old contract.
		for _, addr := range []string{c.ContractAddress, c.PreviousContractAddress} {
			if !common.IsHexAddress(addr) {
				continue
			}
			if r.Register(common.HexToAddress(addr), c.ID, c.Public) {
				added++
			}
		}
	}
	return added, nil
}

// Size returns the number of registered contracts.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Addresses returns every registered contract in byte order.
func (r *Registry) Addresses() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]common.Address, 0, len(r.entries))
	for addr := range r.entries {
		result = append(result, addr)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i][:], result[j][:]) < 0
	})
	return result
}
