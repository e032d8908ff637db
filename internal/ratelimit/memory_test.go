package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func closeLimiter(t *testing.T, m *MemoryLimiter) {
	t.Helper()
	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func TestMemoryLimiterAllowUnderBurst(t *testing.T) {
	m := NewMemoryLimiter(10, 5)
	defer closeLimiter(t, m)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ok, err := m.Allow(ctx, "k1")
		if err != nil {
			t.Fatalf("Allow returned error on request %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("expected Allow to return true for request %d (within burst)", i)
		}
	}
}

func TestMemoryLimiterDenyAfterBurst(t *testing.T) {
	m := NewMemoryLimiter(0.001, 3)
	defer closeLimiter(t, m)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if ok, _ := m.Allow(ctx, "k1"); !ok {
			t.Fatalf("expected Allow=true for request %d", i)
		}
	}
	if ok, _ := m.Allow(ctx, "k1"); ok {
		t.Fatal("expected Allow=false after burst exhausted")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := NewMemoryLimiter(0.001, 1)
	defer closeLimiter(t, m)

	ctx := context.Background()
	if ok, _ := m.Allow(ctx, "a"); !ok {
		t.Fatal("first request for a should pass")
	}
	if ok, _ := m.Allow(ctx, "a"); ok {
		t.Fatal("second request for a should be limited")
	}
	if ok, _ := m.Allow(ctx, "b"); !ok {
		t.Fatal("b has its own bucket")
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", m.Len())
	}
}

func TestMemoryLimiterRefill(t *testing.T) {
	m := NewMemoryLimiter(1000, 1)
	defer closeLimiter(t, m)

	ctx := context.Background()
	if ok, _ := m.Allow(ctx, "k"); !ok {
		t.Fatal("first request should pass")
	}
	time.Sleep(20 * time.Millisecond)
	if ok, _ := m.Allow(ctx, "k"); !ok {
		t.Fatal("expected a refilled token after 20ms at 1000 rps")
	}
}

func TestMemoryLimiterEvictStale(t *testing.T) {
	m := NewMemoryLimiter(10, 1)
	defer closeLimiter(t, m)

	_, _ = m.Allow(context.Background(), "k")
	m.evictStale(time.Now().Add(-time.Hour))
	if m.Len() != 1 {
		t.Fatal("recently used key must survive eviction")
	}
	m.evictStale(time.Now().Add(time.Second))
	if m.Len() != 0 {
		t.Fatalf("expected all keys evicted, got %d", m.Len())
	}
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m := NewMemoryLimiter(0.001, 50)
	defer closeLimiter(t, m)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Allow(context.Background(), "shared"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := allowed.Load(); got != 50 {
		t.Fatalf("expected exactly the burst (50) to pass, got %d", got)
	}
}

func TestMemoryLimiterCloseTwice(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	closeLimiter(t, m)
	closeLimiter(t, m)
}
