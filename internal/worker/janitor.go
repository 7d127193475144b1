package worker

import (
	"context"
	"time"

	"github.com/exodus-gw/exodus-gw/internal/logging"
	"github.com/exodus-gw/exodus-gw/internal/store"
)

// RunJanitorActorName names the actor the Scheduler declares for the
// periodic cleanup sweep (spec.md §4.8).
const RunJanitorActorName = "run_janitor"

// Janitor is a thin wrapper declared as a scheduled actor: all three
// sweeps run in one store-side transaction, so there's nothing for this
// package to orchestrate beyond logging the result.
type Janitor struct {
	st             *store.Store
	publishTimeout time.Duration
	historyTimeout time.Duration
}

func NewJanitor(st *store.Store, publishTimeout, historyTimeout time.Duration) *Janitor {
	return &Janitor{st: st, publishTimeout: publishTimeout, historyTimeout: historyTimeout}
}

// Run executes the sweep. It takes no message args -- the Scheduler invokes
// it on a fixed cron rule, not in response to any enqueued payload.
func (j *Janitor) Run(ctx context.Context) error {
	fixed, abandoned, deleted, err := j.st.RunJanitorSweep(ctx, j.publishTimeout, j.historyTimeout)
	if err != nil {
		return err
	}
	logging.Op().Info("janitor sweep complete",
		"null_timestamps_fixed", fixed,
		"abandoned_tasks_failed", abandoned,
		"terminal_records_deleted", deleted,
	)
	return nil
}
