package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/impactwatcher/internal/indexing/registry"
)

// RegistrySync periodically re-seeds the registry from persisted state so
// communities activated elsewhere become resolvable here.
type RegistrySync struct {
	interval time.Duration
	registry *registry.Registry
	loader   registry.Loader
}

// NewRegistrySync creates a new RegistrySync worker.
func NewRegistrySync(
	interval time.Duration,
	reg *registry.Registry,
	loader registry.Loader,
) *RegistrySync {
	return &RegistrySync{
		interval: interval,
		registry: reg,
		loader:   loader,
	}
}

// Start runs the sync loop until ctx is done.
func (s *RegistrySync) Start(ctx context.Context) {
	if s.interval <= 0 {
		return // Resync disabled
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

func (s *RegistrySync) sync(ctx context.Context) {
	added, err := s.registry.Seed(ctx, s.loader)
	if err != nil {
		slog.Error("Registry resync failed", "error", err)
		return
	}
	if added > 0 {
		slog.Info("Registry resync picked up communities", "added", added, "size", s.registry.Size())
	}
}
