package objectstore

import (
	"context"
	"testing"
	"time"
)

func TestReleaseRespectsSizeBound(t *testing.T) {
	p := NewPool(2, time.Minute)
	defer p.Shutdown()

	for i := 0; i < 3; i++ {
		p.Release("default", nil)
	}
	pp := p.profilePool("default")
	if len(pp.clients) != 2 {
		t.Fatalf("got %d pooled clients, want 2 (bound)", len(pp.clients))
	}
}

func TestAcquireReusesReleasedClient(t *testing.T) {
	p := NewPool(1, time.Minute)
	defer p.Shutdown()

	p.Release("default", nil)
	pp := p.profilePool("default")
	if len(pp.clients) != 1 {
		t.Fatal("expected one pooled client before acquire")
	}

	got, err := p.Acquire(context.Background(), "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected the released client to be reused as-is, got %v", got)
	}
	if len(pp.clients) != 0 {
		t.Fatal("expected pool to be drained after acquire")
	}
}

func TestNewPoolDefaultsSizeAndTTL(t *testing.T) {
	p := NewPool(0, 0)
	defer p.Shutdown()
	if p.size != 1 {
		t.Fatalf("got size %d, want default of 1", p.size)
	}
	if p.idleTTL != defaultIdleTTL {
		t.Fatalf("got idleTTL %v, want default", p.idleTTL)
	}
}

func TestEvictIdleRemovesStaleClients(t *testing.T) {
	p := NewPool(2, time.Minute)
	defer p.Shutdown()

	pp := p.profilePool("default")
	pp.mu.Lock()
	pp.clients = append(pp.clients, &pooledClient{client: nil, lastUsed: time.Now().Add(-time.Hour)})
	pp.mu.Unlock()

	p.evictIdle()

	pp.mu.Lock()
	n := len(pp.clients)
	pp.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected stale client evicted, got %d remaining", n)
	}
}

func TestSetStaticCredentialsRegistersProviderForProfile(t *testing.T) {
	p := NewPool(1, time.Minute)
	defer p.Shutdown()

	p.SetStaticCredentials("default", "AKIDEXAMPLE", "secret")

	p.credsMu.Lock()
	_, ok := p.creds["default"]
	p.credsMu.Unlock()
	if !ok {
		t.Fatal("expected a registered credentials provider for profile \"default\"")
	}
}

func TestEvictIdleKeepsFreshClients(t *testing.T) {
	p := NewPool(2, time.Minute)
	defer p.Shutdown()

	p.Release("default", nil)
	p.evictIdle()

	pp := p.profilePool("default")
	pp.mu.Lock()
	n := len(pp.clients)
	pp.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected fresh client to survive eviction, got %d remaining", n)
	}
}
