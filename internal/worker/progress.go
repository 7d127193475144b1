package worker

import (
	"sync"
	"time"

	"github.com/exodus-gw/exodus-gw/internal/logging"
)

// ProgressLogger emits a rate-limited log line during long-running batch
// operations. Grounded on
// original_source/exodus_gw/worker/progress.py's ProgressLogger.
type ProgressLogger struct {
	message  string
	interval time.Duration

	mu        sync.Mutex
	total     int
	processed int
	start     time.Time
	lastWrite time.Time
}

// NewProgressLogger constructs a logger for a phase named message, expected
// to process itemsTotal items, emitting at most one line per interval (the
// spec's default is 5 seconds).
func NewProgressLogger(message string, itemsTotal int, interval time.Duration) *ProgressLogger {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ProgressLogger{
		message:  message,
		interval: interval,
		total:    itemsTotal,
		start:    time.Now(),
	}
}

// AdjustTotal adds (or, if negative, subtracts) from the configured total,
// for when an earlier estimate needs correcting mid-run.
func (p *ProgressLogger) AdjustTotal(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total += delta
}

// Update adds delta to the processed count, possibly emitting a log line.
// A line is always emitted once processed reaches or exceeds the total,
// regardless of the interval, so the final line is never suppressed.
func (p *ProgressLogger) Update(delta int) {
	now := time.Now()

	p.mu.Lock()
	p.processed += delta
	processed, total := p.processed, p.total
	reachedTotal := processed >= total
	tooSoon := !reachedTotal && now.Sub(p.lastWrite) < p.interval
	if tooSoon {
		p.mu.Unlock()
		return
	}
	p.lastWrite = now
	start := p.start
	p.mu.Unlock()

	percent := 0.0
	if total > 0 {
		percent = float64(processed) / float64(total) * 100
	}
	runtime := now.Sub(start).Seconds()
	perSecond := 0.0
	if runtime > 0.01 {
		perSecond = float64(processed) / runtime
	}

	logging.Op().Info(p.message,
		"processed", processed, "total", total, "percent", percent, "items_per_second", perSecond)
}
