package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/impactwatcher/internal/core/domain"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/provider"
	"github.com/vietddude/impactwatcher/internal/infra/rpc/routing"
)

func rpcServer(t *testing.T, result string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
}

func newTestClient(urls ...string) *Client {
	router := routing.NewRouter()
	for i, u := range urls {
		name := "primary"
		if i > 0 {
			name = "fallback"
		}
		router.AddProvider(domain.ChainIDAlfajores, provider.NewHTTPProvider(name, u, 2*time.Second))
	}
	return NewClient(domain.ChainIDAlfajores, router, routing.RetryConfig{MaxAttempts: 1})
}

func TestClient_UsesPrimaryFirst(t *testing.T) {
	var primaryHits, fallbackHits atomic.Int32
	primary := rpcServer(t, `"0x64"`, &primaryHits)
	defer primary.Close()
	fallback := rpcServer(t, `"0x65"`, &fallbackHits)
	defer fallback.Close()

	c := newTestClient(primary.URL, fallback.URL)

	var head string
	if err := c.Call(context.Background(), &head, "eth_blockNumber"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != "0x64" {
		t.Errorf("expected 0x64, got %s", head)
	}
	if fallbackHits.Load() != 0 {
		t.Errorf("fallback should be idle, got %d hits", fallbackHits.Load())
	}
}

func TestClient_FailsOverOnServerError(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer primary.Close()
	var fallbackHits atomic.Int32
	fallback := rpcServer(t, `"0x65"`, &fallbackHits)
	defer fallback.Close()

	c := newTestClient(primary.URL, fallback.URL)

	var head string
	if err := c.Call(context.Background(), &head, "eth_blockNumber"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != "0x65" || fallbackHits.Load() != 1 {
		t.Errorf("expected fallback answer, got %s (%d hits)", head, fallbackHits.Load())
	}
}

func TestClient_AllProvidersDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	c := newTestClient(down.URL, down.URL)

	var head string
	err := c.Call(context.Background(), &head, "eth_blockNumber")
	if !errors.Is(err, routing.ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
}
