package consumer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestIsDelayedQueue(t *testing.T) {
	if !isDelayedQueue("exodus-gw.DQ") {
		t.Fatal("expected .DQ suffix to be recognized")
	}
	if isDelayedQueue("exodus-gw") {
		t.Fatal("expected base queue to not be recognized as delayed")
	}
}

func TestComputeBackoffGrowsExponentially(t *testing.T) {
	d0 := computeBackoff(0, 0)
	d1 := computeBackoff(1, 0)
	d2 := computeBackoff(2, 0)
	if d0 != 100*time.Millisecond {
		t.Fatalf("got %v", d0)
	}
	if d1 != 200*time.Millisecond {
		t.Fatalf("got %v", d1)
	}
	if d2 != 400*time.Millisecond {
		t.Fatalf("got %v", d2)
	}
}

func TestComputeBackoffCapsAtMax(t *testing.T) {
	got := computeBackoff(20, 5*time.Second)
	if got != 5*time.Second {
		t.Fatalf("got %v, want capped at 5s", got)
	}
}

func TestComputeBackoffDefaultCapWhenMaxUnset(t *testing.T) {
	got := computeBackoff(30, 0)
	if got != 2*time.Minute {
		t.Fatalf("got %v, want default cap of 2m", got)
	}
}

// TestRunWorkerPoolRunsHandlersConcurrently proves the dispatch loop a
// bounded pool of goroutines actually overlaps handle calls, rather than
// serializing them the way a single inline call would -- the defect this
// pool exists to fix. Two slow handlers are fed in; with a two-worker pool
// both must be observed in flight at once within the test's deadline.
func TestRunWorkerPoolRunsHandlersConcurrently(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const workers = 2
	ch := make(chan int, workers)

	var inFlight atomic.Int32
	var maxObserved atomic.Int32
	release := make(chan struct{})

	wg := runWorkerPool(ctx, workers, ch, func(v int) {
		n := inFlight.Add(1)
		for {
			old := maxObserved.Load()
			if n <= old || maxObserved.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		inFlight.Add(-1)
	})

	ch <- 1
	ch <- 2

	deadline := time.After(2 * time.Second)
	for maxObserved.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both handlers to run concurrently")
		case <-time.After(time.Millisecond):
		}
	}

	close(release)
	cancel()
	wg.Wait()
}

// TestRunWorkerPoolStopsOnContextCancel ensures workers exit once ctx is
// done instead of leaking goroutines blocked on the channel forever.
func TestRunWorkerPoolStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan int)

	var calls atomic.Int32
	wg := runWorkerPool(ctx, 3, ch, func(int) { calls.Add(1) })

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected worker pool to stop after context cancellation")
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no handler calls, got %d", calls.Load())
	}
}
