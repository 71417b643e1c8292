package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/vietddude/impactwatcher/internal/core/domain"
)

// Runs against a real server: TEST_REDIS_URL=redis://localhost:6379/15
func newTestStore(t *testing.T) *CheckpointStore {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("Skipping redis test. Set TEST_REDIS_URL to run.")
	}
	client, err := NewClient(Config{URL: url})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	prefix := fmt.Sprintf("test-%d", time.Now().UnixNano())
	s := NewCheckpointStore(client, prefix, domain.ChainIDAlfajores)
	t.Cleanup(func() {
		client.rdb.Del(context.Background(), s.blockKey, s.markerKey)
	})
	return s
}

func TestCheckpointStore_Monotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetLastProcessedBlock(ctx); err != nil || ok {
		t.Fatalf("expected empty checkpoint, got ok=%v err=%v", ok, err)
	}

	for _, n := range []uint64{100, 90, 105, 104} {
		if err := s.SetLastProcessedBlock(ctx, n); err != nil {
			t.Fatalf("set %d: %v", n, err)
		}
	}

	got, ok, err := s.GetLastProcessedBlock(ctx)
	if err != nil || !ok || got != 105 {
		t.Fatalf("expected 105, got %d ok=%v err=%v", got, ok, err)
	}

	if err := s.ResetLastProcessedBlock(ctx, 50); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, _, _ := s.GetLastProcessedBlock(ctx); got != 50 {
		t.Errorf("expected 50 after reset, got %d", got)
	}
}

func TestCheckpointStore_RecoveryMarker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if on, _ := s.IsRecoveryMarked(ctx); on {
		t.Fatal("expected marker unset")
	}
	s.SetRecoveryMarker(ctx, true)
	if on, _ := s.IsRecoveryMarked(ctx); !on {
		t.Fatal("expected marker set")
	}
	s.SetRecoveryMarker(ctx, false)
	if on, _ := s.IsRecoveryMarked(ctx); on {
		t.Fatal("expected marker cleared")
	}
}
