// Package rpc provides a resilient JSON-RPC client for a single chain.
//
// Providers are registered on a routing.Router in priority order (primary
// first). Every call walks that order until one provider returns a result
// that decodes; only when all of them fail does the call fail.
//
//	router := routing.NewRouter()
//	router.AddProvider(chainID, provider.NewHTTPProvider("primary", primaryURL, 30*time.Second))
//	router.AddProvider(chainID, provider.NewHTTPProvider("fallback", fallbackURL, 30*time.Second))
//	client := rpc.NewClient(chainID, router, routing.DefaultRetryConfig)
//
//	var head hexutil.Uint64
//	err := client.Call(ctx, &head, "eth_blockNumber")
package rpc

import (
	"context"
	"encoding/json"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/provider"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/routing"
)

// Client is a failover JSON-RPC client bound to one chain.
type Client struct {
	chainID domain.ChainID
	router  routing.Router
	retry   routing.RetryConfig
}

// NewClient creates a client over the router's providers for chainID.
func NewClient(chainID domain.ChainID, router routing.Router, retry routing.RetryConfig) *Client {
	return &Client{
		chainID: chainID,
		router:  router,
		retry:   retry,
	}
}

// Call invokes method and unmarshals the result into out. A provider whose
// result cannot be unmarshalled counts as failed.
func (c *Client) Call(ctx context.Context, out any, method string, params ...any) error {
	return routing.CallWithFailover(ctx, c.router, c.chainID, method, params, c.retry,
		func(raw json.RawMessage) error {
			return json.Unmarshal(raw, out)
		})
}

// ChainID returns the chain this client talks to.
func (c *Client) ChainID() domain.ChainID {
	return c.chainID
}

// GetProviderStats returns monitor statistics keyed by provider name.
func (c *Client) GetProviderStats() map[string]provider.MonitorStats {
	stats := make(map[string]provider.MonitorStats)
	for _, p := range c.router.GetAllProviders(c.chainID) {
		if h := p.GetHealth(); h.MonitorStats != nil {
			stats[p.GetName()] = *h.MonitorStats
		}
	}
	return stats
}

// Close releases every provider's resources.
func (c *Client) Close() error {
	for _, p := range c.router.GetAllProviders(c.chainID) {
		p.Close()
	}
	return nil
}
