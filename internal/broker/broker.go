// Package broker implements the durable message broker: enqueueing messages
// into the Store's dramatiq_messages table, propagating correlation ids, and
// waking consumers with a Postgres NOTIFY on the shared channel (in addition
// to the local in-process fan-out) so every LISTENing connection, including
// other processes and hosts, wakes up. Grounded on the interface shape of
// oriys-nova/internal/mq.MessageQueue and the shared-transaction semantics
// of original_source/exodus_gw/worker/broker.py's SessionPoolAdapter and its
// pg_notify middleware.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/exodus-gw/exodus-gw/internal/notify"
	"github.com/exodus-gw/exodus-gw/internal/reqctx"
	"github.com/exodus-gw/exodus-gw/internal/store"
)

// ActorOptions mirrors dramatiq's @actor decorator options, named in
// spec.md §4.2.
type ActorOptions struct {
	TimeLimit    time.Duration
	MaxRetries   int
	MaxBackoff   time.Duration
	Scheduled    bool
	StoreResults bool
}

// ActorFunc is the invoked body of a declared actor.
type ActorFunc func(ctx context.Context, args json.RawMessage) error

type actorEntry struct {
	name    string
	queue   string
	fn      ActorFunc
	options ActorOptions
}

// Body is the structured message payload: args, kwargs, enqueue timestamp,
// correlation id and retry attempt count. Actor options are not carried in
// it, and a delayed message's ETA is held on store.Message, not here.
type Body struct {
	Args       json.RawMessage `json:"args,omitempty"`
	Kwargs     json.RawMessage `json:"kwargs,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	CallerID   string          `json:"request_id,omitempty"`
	// Attempt counts prior deliveries of this message id; incremented by
	// the Consumer on each retry requeue (spec.md §4.3 step 3).
	Attempt int `json:"attempt,omitempty"`
}

// Broker enqueues durable messages and declares actors. A single Broker
// instance is shared by the process; per-flow shared-transaction binding is
// achieved via Bind/Unbind, exactly mirroring the original's
// SessionPoolAdapter.set_session.
type Broker struct {
	st      *store.Store
	channel string
	fanout  *notify.ChannelNotifier

	actors map[string]actorEntry
	// queueOrder lists distinct queue names in first-declaration order.
	queueOrder []string

	boundTx pgx.Tx // non-nil while bound to a caller's transaction
}

func New(st *store.Store, notifyChannel string, fanout *notify.ChannelNotifier) *Broker {
	return &Broker{
		st:      st,
		channel: notifyChannel,
		fanout:  fanout,
		actors:  make(map[string]actorEntry),
	}
}

// Declare registers an actor at startup with (name, queue, fn, options).
func (b *Broker) Declare(name, queue string, fn ActorFunc, opts ActorOptions) {
	known := false
	for _, q := range b.queueOrder {
		if q == queue {
			known = true
			break
		}
	}
	if !known {
		b.queueOrder = append(b.queueOrder, queue)
	}
	b.actors[name] = actorEntry{name: name, queue: queue, fn: fn, options: opts}
}

// Lookup returns the declared actor entry, if any.
func (b *Broker) Lookup(name string) (queue string, fn ActorFunc, opts ActorOptions, ok bool) {
	e, ok := b.actors[name]
	if !ok {
		return "", nil, ActorOptions{}, false
	}
	return e.queue, e.fn, e.options, true
}

// Queues returns every declared queue name, in declaration order. The first
// entry is the "master" queue per spec.md §4.3's deterministic master
// selection -- callers should declare actors in a stable order.
func (b *Broker) Queues() []string {
	used := make(map[string]bool)
	for _, e := range b.actors {
		used[e.queue] = true
	}
	var qs []string
	for _, q := range b.queueOrder {
		if used[q] {
			qs = append(qs, q)
		}
	}
	return qs
}

// Bind attaches tx so subsequent Enqueue calls participate in the caller's
// transaction, making "enqueue on successful HTTP request" atomic with the
// caller's other writes (spec.md §4.2, §5).
func (b *Broker) Bind(tx pgx.Tx) {
	b.boundTx = tx
}

// Unbind detaches any bound transaction; subsequent enqueues use their own
// short transaction.
func (b *Broker) Unbind() {
	b.boundTx = nil
}

// Enqueue inserts or upserts message msg for actor/queue, emitting a NOTIFY
// so any listening consumer wakes. If delay is non-zero, the message is
// queued on the delayed-variant queue with ETA = now+delay (spec.md §4.2).
func (b *Broker) Enqueue(ctx context.Context, actor, queue string, args json.RawMessage, delay time.Duration) (uuid.UUID, error) {
	return b.enqueue(ctx, uuid.New(), actor, queue, args, delay)
}

// EnqueueWithID is Enqueue with a caller-supplied, possibly pre-existing,
// message id -- used by the Scheduler for its deterministic dedup ids and
// by the retry path (broker re-enqueues the same id).
func (b *Broker) EnqueueWithID(ctx context.Context, id uuid.UUID, actor, queue string, args json.RawMessage, delay time.Duration) error {
	_, err := b.enqueue(ctx, id, actor, queue, args, delay)
	return err
}

// Requeue re-enqueues id with a caller-constructed body (preserving fields
// like Attempt across a retry) after delay. Used by the Consumer's retry
// path, where the attempt counter must survive the requeue.
func (b *Broker) Requeue(ctx context.Context, id uuid.UUID, actor, queue string, body Body, delay time.Duration) error {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal retry body: %w", err)
	}

	targetQueue := queue
	var eta *time.Time
	if delay > 0 {
		targetQueue = store.DelayedQueueName(queue)
		t := time.Now().Add(delay)
		eta = &t
	}

	msg := store.Message{ID: id, Queue: targetQueue, Actor: actor, Body: bodyJSON, ETA: eta}
	if err := b.st.UpsertMessage(ctx, msg); err != nil {
		return err
	}
	if err := b.st.NotifyChannel(ctx, b.channel); err != nil {
		return err
	}
	if b.fanout != nil {
		b.fanout.Notify(targetQueue)
	}
	return nil
}

func (b *Broker) enqueue(ctx context.Context, id uuid.UUID, actor, queue string, args json.RawMessage, delay time.Duration) (uuid.UUID, error) {
	body := Body{
		Args:       args,
		EnqueuedAt: time.Now().UTC(),
		CallerID:   reqctx.CorrelationID(ctx),
	}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal message body: %w", err)
	}

	targetQueue := queue
	var eta *time.Time
	if delay > 0 {
		targetQueue = store.DelayedQueueName(queue)
		t := time.Now().Add(delay)
		eta = &t
	}

	msg := store.Message{ID: id, Queue: targetQueue, Actor: actor, Body: bodyJSON, ETA: eta}

	if b.boundTx != nil {
		if err := store.UpsertMessage(ctx, b.boundTx, msg); err != nil {
			return uuid.Nil, err
		}
		// NOTIFY is issued on the same bound transaction as the write so
		// Postgres only broadcasts it once the enqueue actually commits.
		if err := store.NotifyChannel(ctx, b.boundTx, b.channel); err != nil {
			return uuid.Nil, err
		}
	} else {
		if err := b.st.UpsertMessage(ctx, msg); err != nil {
			return uuid.Nil, err
		}
		if err := b.st.NotifyChannel(ctx, b.channel); err != nil {
			return uuid.Nil, err
		}
	}

	if b.fanout != nil {
		b.fanout.Notify(targetQueue)
	}
	return id, nil
}
