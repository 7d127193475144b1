package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/exodus-gw/exodus-gw/internal/logging"
)

// Listener holds one dedicated autocommit connection, issues LISTEN on a
// fixed channel, and forwards every notification into a ChannelNotifier so
// waiting consumers wake up immediately instead of only on their poll
// interval. Grounded on
// original_source/exodus_gw/dramatiq/middleware/pg_notify.py's Listener:
// restart-on-exception with exponential backoff, one connection per
// listener, no payload parsing (the channel alone carries the wake-up).
type Listener struct {
	dsn     string
	channel string
	fanout  *ChannelNotifier
	// wakeQueues lists the queue names to signal on every notification,
	// since a single Postgres channel fans out to every declared queue.
	wakeQueues []string
}

func NewListener(dsn, channel string, fanout *ChannelNotifier, wakeQueues []string) *Listener {
	return &Listener{dsn: dsn, channel: channel, fanout: fanout, wakeQueues: wakeQueues}
}

// Run blocks until ctx is cancelled, restarting the LISTEN connection with
// exponential backoff on any error.
func (l *Listener) Run(ctx context.Context) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		if err := l.runOnce(ctx); err != nil {
			logging.Op().Warn("notify listener error, restarting", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 100 * time.Millisecond
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", l.channel)); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}
		for _, q := range l.wakeQueues {
			l.fanout.Notify(q)
			l.fanout.Notify(DelayedQueueNameForWake(q))
		}
	}
}

// DelayedQueueNameForWake mirrors store.DelayedQueueName without importing
// the store package, to keep notify dependency-free of storage concerns.
func DelayedQueueNameForWake(queue string) string {
	return queue + ".DQ"
}
