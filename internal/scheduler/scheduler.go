// Package scheduler drives cron-ruled actors: each scheduled actor
// re-enqueues itself after every invocation and only calls its real body
// when its cron rule has fired since the last run. Grounded on
// original_source/exodus_gw/dramatiq/middleware/scheduler.py's
// SchedulerMiddleware.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/exodus-gw/exodus-gw/internal/broker"
	"github.com/exodus-gw/exodus-gw/internal/logging"
	"github.com/exodus-gw/exodus-gw/internal/store"
)

// Namespace is the fixed UUID used to derive stable per-actor message ids.
// Kept identical to the original's SchedulerMiddleware.SCHEDULER_NS so the
// derivation stays reproducible across reimplementations.
var Namespace = uuid.MustParse("71f64e57-40d4-28a5-3342-9d81c30e899b")

// MessageID derives the one stable message id for (queue, actorName), per
// spec.md §4.4's "deduplicate via a stable message id".
func MessageID(queue, actorName string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(queue+"-"+actorName))
}

// Scheduled describes one cron-driven actor: its broker identity, its cron
// rule, and the real work to perform when the rule fires.
type Scheduled struct {
	ActorName string
	Queue     string
	CronRule  string
	Fn        func(ctx context.Context) error
}

// schedulePayload is the args body threaded through re-enqueues, carrying
// the timestamp of the last time the rule was evaluated so the window
// [last_run, now] survives process restarts.
type schedulePayload struct {
	LastRun *time.Time `json:"last_run,omitempty"`
}

// Scheduler registers scheduled actors on a Broker and drives boot-time
// idempotent enqueueing.
type Scheduler struct {
	br       *broker.Broker
	st       *store.Store
	parser   cron.Parser
	interval time.Duration
	delay    time.Duration

	schedules map[string]Scheduled
}

func New(br *broker.Broker, st *store.Store, interval, delay time.Duration) *Scheduler {
	return &Scheduler{
		br:        br,
		st:        st,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		interval:  interval,
		delay:     delay,
		schedules: make(map[string]Scheduled),
	}
}

// Declare registers sched as a broker actor. The wrapped body evaluates the
// cron rule over [last_run, now], invokes sched.Fn only if the rule fired in
// that window, and always re-enqueues itself afterward regardless of
// whether it fired (spec.md §4.4).
func (s *Scheduler) Declare(sched Scheduled) error {
	if _, err := s.parser.Parse(sched.CronRule); err != nil {
		return fmt.Errorf("scheduled actor %s: invalid cron rule %q: %w", sched.ActorName, sched.CronRule, err)
	}
	s.schedules[sched.ActorName] = sched
	s.br.Declare(sched.ActorName, sched.Queue, func(ctx context.Context, args json.RawMessage) error {
		return s.invoke(ctx, sched, args)
	}, broker.ActorOptions{Scheduled: true})
	return nil
}

func (s *Scheduler) invoke(ctx context.Context, sched Scheduled, args json.RawMessage) error {
	var payload schedulePayload
	if len(args) > 0 {
		if err := json.Unmarshal(args, &payload); err != nil {
			return fmt.Errorf("unmarshal schedule payload: %w", err)
		}
	}

	now := time.Now().UTC()
	since := now.Add(-30 * time.Minute)
	if payload.LastRun != nil {
		since = *payload.LastRun
	}

	fired, err := cronFiredInWindow(s.parser, sched.CronRule, since, now)
	if err != nil {
		return fmt.Errorf("parse cron rule: %w", err)
	}

	if fired {
		logging.Op().Info("scheduled actor activated",
			"actor", sched.ActorName, "rule", sched.CronRule, "since", since, "now", now)
		if err := sched.Fn(ctx); err != nil {
			return fmt.Errorf("scheduled actor %s: %w", sched.ActorName, err)
		}
	} else {
		logging.Op().Debug("scheduled actor: cron rule did not occur in window",
			"actor", sched.ActorName, "rule", sched.CronRule, "since", since, "now", now)
	}

	return s.requeue(ctx, sched, now, s.interval)
}

// cronFiredInWindow reports whether rule has a fire instant in [since, now]
// -- inclusive at both bounds. cron.Schedule.Next returns a time
// strictly after its argument, so checking schedule.Next(since) would miss
// a fire landing exactly on since; backing the probe up by a nanosecond
// makes the lower bound inclusive without affecting the upper bound.
func cronFiredInWindow(parser cron.Parser, rule string, since, now time.Time) (bool, error) {
	schedule, err := parser.Parse(rule)
	if err != nil {
		return false, err
	}
	next := schedule.Next(since.Add(-time.Nanosecond))
	return !next.After(now), nil
}

func (s *Scheduler) requeue(ctx context.Context, sched Scheduled, lastRun time.Time, delay time.Duration) error {
	next := schedulePayload{LastRun: &lastRun}
	body, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal schedule payload: %w", err)
	}
	id := MessageID(sched.Queue, sched.ActorName)
	return s.br.EnqueueWithID(ctx, id, sched.ActorName, sched.Queue, body, delay)
}

// EnsureEnqueued enqueues the one stable message for every declared
// scheduled actor (idempotent on process boot) and removes any other
// message for that actor across its queue and delayed queue, guaranteeing a
// singleton pending message per scheduled actor (spec.md §4.4, property #6
// "scheduled actor singleton").
func (s *Scheduler) EnsureEnqueued(ctx context.Context) error {
	for _, sched := range s.schedules {
		id := MessageID(sched.Queue, sched.ActorName)
		body, err := json.Marshal(schedulePayload{})
		if err != nil {
			return fmt.Errorf("marshal initial schedule payload: %w", err)
		}
		if err := s.br.EnqueueWithID(ctx, id, sched.ActorName, sched.Queue, body, s.delay); err != nil {
			return fmt.Errorf("enqueue scheduled actor %s: %w", sched.ActorName, err)
		}
		queues := []string{sched.Queue, store.DelayedQueueName(sched.Queue)}
		if err := s.st.DeleteOtherMessagesForActor(ctx, sched.ActorName, queues, id); err != nil {
			return fmt.Errorf("clean duplicate messages for %s: %w", sched.ActorName, err)
		}
	}
	return nil
}
