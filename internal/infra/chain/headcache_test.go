package chain

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockHead struct {
	head  uint64
	err   error
	calls int
}

func (m *mockHead) LatestBlock(ctx context.Context) (uint64, error) {
	m.calls++
	return m.head, m.err
}

func TestHeadCache_CachesResult(t *testing.T) {
	src := &mockHead{head: 1000}
	cache := NewHeadCache(src, 3*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		head, err := cache.LatestBlock(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if head != 1000 {
			t.Errorf("head = %d, want 1000", head)
		}
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
}

func TestHeadCache_Expires(t *testing.T) {
	src := &mockHead{head: 10}
	cache := NewHeadCache(src, 10*time.Millisecond)
	ctx := context.Background()

	_, _ = cache.LatestBlock(ctx)
	time.Sleep(20 * time.Millisecond)
	src.head = 11

	head, _ := cache.LatestBlock(ctx)
	if head != 11 {
		t.Errorf("head = %d, want 11 after expiry", head)
	}
	if src.calls != 2 {
		t.Errorf("source called %d times, want 2", src.calls)
	}
}

func TestHeadCache_Invalidate(t *testing.T) {
	src := &mockHead{head: 10}
	cache := NewHeadCache(src, time.Hour)
	ctx := context.Background()

	_, _ = cache.LatestBlock(ctx)
	cache.Invalidate()
	_, _ = cache.LatestBlock(ctx)
	if src.calls != 2 {
		t.Errorf("source called %d times, want 2", src.calls)
	}
}

func TestHeadCache_ErrorNotCached(t *testing.T) {
	src := &mockHead{err: errors.New("rpc down")}
	cache := NewHeadCache(src, time.Hour)
	ctx := context.Background()

	if _, err := cache.LatestBlock(ctx); err == nil {
		t.Fatal("expected error")
	}
	src.err = nil
	src.head = 5
	head, err := cache.LatestBlock(ctx)
	if err != nil || head != 5 {
		t.Errorf("got %d, %v; want 5, nil", head, err)
	}
}
