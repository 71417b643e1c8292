// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/vietddude/impactwatcher/internal/core/checkpoint"
	"github.com/vietddude/impactwatcher/internal/indexing/live"
	"github.com/vietddude/impactwatcher/internal/indexing/recovery"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/routing"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ChainHealth contains health metrics for the watched chain.
type ChainHealth struct {
	ChainID      string                  `json:"chain_id"`
	Status       SystemStatus            `json:"status"`
	Reasons      []string                `json:"reasons,omitempty"`
	Head         uint64                  `json:"head"`
	Checkpoint   uint64                  `json:"checkpoint"`
	BlockLag     int64                   `json:"block_lag"`
	Holding      bool                    `json:"holding"`
	Progress     checkpoint.Metrics      `json:"progress"`
	Recovery     recovery.Status         `json:"recovery"`
	Live         live.Status             `json:"live"`
	RegistrySize int                     `json:"registry_size"`
	Providers    []routing.ProviderState `json:"providers"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus           `json:"system_status"`
	Chains       map[string]ChainHealth `json:"chains"`
}
