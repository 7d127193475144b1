package worker

import (
	"testing"
	"time"
)

func TestNewProgressLoggerDefaultsInterval(t *testing.T) {
	p := NewProgressLogger("test", 10, 0)
	if p.interval != 5*time.Second {
		t.Fatalf("got interval %v, want default 5s", p.interval)
	}
}

func TestProgressLoggerAccumulatesProcessed(t *testing.T) {
	p := NewProgressLogger("test", 10, time.Hour)
	p.Update(3)
	p.Update(4)
	if p.processed != 7 {
		t.Fatalf("got processed %d, want 7", p.processed)
	}
}

func TestProgressLoggerAdjustTotal(t *testing.T) {
	p := NewProgressLogger("test", 10, time.Hour)
	p.AdjustTotal(5)
	if p.total != 15 {
		t.Fatalf("got total %d, want 15", p.total)
	}
	p.AdjustTotal(-3)
	if p.total != 12 {
		t.Fatalf("got total %d, want 12", p.total)
	}
}

func TestProgressLoggerEmitsOnReachingTotalRegardlessOfInterval(t *testing.T) {
	p := NewProgressLogger("test", 5, time.Hour)
	p.Update(5)
	if p.lastWrite.IsZero() {
		t.Fatal("expected a write to be recorded once total is reached")
	}
}

func TestProgressLoggerSuppressesWriteWithinInterval(t *testing.T) {
	p := NewProgressLogger("test", 100, time.Hour)
	p.Update(1)
	firstWrite := p.lastWrite
	p.Update(1)
	if p.lastWrite != firstWrite {
		t.Fatal("expected the second update within the interval to be suppressed")
	}
}
