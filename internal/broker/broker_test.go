package broker

import (
	"context"
	"encoding/json"
	"testing"
)

func noopActor(ctx context.Context, args json.RawMessage) error { return nil }

func TestDeclareAndLookup(t *testing.T) {
	b := New(nil, "exodus_gw", nil)
	b.Declare("commit", "exodus-gw", noopActor, ActorOptions{MaxRetries: 5})

	queue, fn, opts, ok := b.Lookup("commit")
	if !ok {
		t.Fatal("expected commit to be declared")
	}
	if queue != "exodus-gw" {
		t.Fatalf("got queue %q", queue)
	}
	if fn == nil {
		t.Fatal("expected a non-nil actor func")
	}
	if opts.MaxRetries != 5 {
		t.Fatalf("got MaxRetries %d", opts.MaxRetries)
	}
}

func TestLookupUnknownActor(t *testing.T) {
	b := New(nil, "exodus_gw", nil)
	if _, _, _, ok := b.Lookup("nonexistent"); ok {
		t.Fatal("expected lookup of an undeclared actor to fail")
	}
}

func TestQueuesDeduplicatesAndCoversEveryDeclaredQueue(t *testing.T) {
	b := New(nil, "exodus_gw", nil)
	b.Declare("commit", "exodus-gw", noopActor, ActorOptions{})
	b.Declare("flush_cdn_cache", "exodus-gw", noopActor, ActorOptions{})
	b.Declare("run_janitor", "exodus-gw-scheduled", noopActor, ActorOptions{})

	queues := b.Queues()
	seen := make(map[string]bool)
	for _, q := range queues {
		seen[q] = true
	}
	if len(seen) != 2 {
		t.Fatalf("got queues %v, want 2 distinct", queues)
	}
	if !seen["exodus-gw"] || !seen["exodus-gw-scheduled"] {
		t.Fatalf("got queues %v", queues)
	}
}

func TestBindUnbind(t *testing.T) {
	b := New(nil, "exodus_gw", nil)
	if b.boundTx != nil {
		t.Fatal("expected no bound transaction initially")
	}
	b.Bind(nil)
	b.Unbind()
	if b.boundTx != nil {
		t.Fatal("expected Unbind to clear the bound transaction")
	}
}
