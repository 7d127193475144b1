package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Message is one unit of queued work. Enqueueing a message with an existing
// id replaces its body and clears consumer_id -- this is how retries work.
// See spec.md §3.
type Message struct {
	ID         uuid.UUID
	Queue      string
	Actor      string
	ConsumerID *string
	Body       json.RawMessage
	ETA        *time.Time
	CreatedAt  time.Time
}

// DelayedQueueName returns the delayed-variant queue name used to hold a
// message until its ETA arrives (spec.md §4.2/§4.3).
func DelayedQueueName(queue string) string {
	return queue + ".DQ"
}

// UpsertMessage inserts msg, or if msg.ID already exists, replaces its body
// and clears consumer_id (the retry path). db lets the caller pass either
// the pool or a bound transaction (see internal/broker's bind/unbind).
func UpsertMessage(ctx context.Context, db DBTX, msg Message) error {
	_, err := db.Exec(ctx, `
		INSERT INTO dramatiq_messages (id, queue, actor, consumer_id, body, eta, created_at)
		VALUES ($1, $2, $3, NULL, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			queue = EXCLUDED.queue,
			actor = EXCLUDED.actor,
			consumer_id = NULL,
			body = EXCLUDED.body,
			eta = EXCLUDED.eta
	`, msg.ID, msg.Queue, msg.Actor, []byte(msg.Body), msg.ETA)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// UpsertMessage is the PostgresStore-bound convenience wrapper (unbound
// broker usage).
func (s *PostgresStore) UpsertMessage(ctx context.Context, msg Message) error {
	return UpsertMessage(ctx, s.pool, msg)
}

// NotifyChannel broadcasts a Postgres NOTIFY on channel via pg_notify(), so
// every LISTENing connection -- including other processes and hosts,
// per spec.md §5 -- wakes up, not just the local in-process fan-out.
// Mirrors original_source/exodus_gw/dramatiq/middleware/pg_notify.py, which
// issues this on the same session as the write it follows. db lets the
// caller pass either the pool or a bound transaction (see
// internal/broker's bind/unbind), so the NOTIFY commits atomically with the
// enqueue it announces.
func NotifyChannel(ctx context.Context, db DBTX, channel string) error {
	_, err := db.Exec(ctx, `SELECT pg_notify($1, '')`, channel)
	if err != nil {
		return fmt.Errorf("notify channel %s: %w", channel, err)
	}
	return nil
}

// NotifyChannel is the PostgresStore-bound convenience wrapper (unbound
// broker usage).
func (s *PostgresStore) NotifyChannel(ctx context.Context, channel string) error {
	return NotifyChannel(ctx, s.pool, channel)
}

// ClaimMessages locks and claims up to limit unclaimed rows in queue for
// consumerID, using FOR UPDATE SKIP LOCKED so concurrent consumers never
// block each other or double-claim a row (spec.md §4.1 invariant).
func (s *PostgresStore) ClaimMessages(ctx context.Context, queue, consumerID string, limit int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE dramatiq_messages SET consumer_id = $1
		WHERE id IN (
			SELECT id FROM dramatiq_messages
			WHERE queue = $2 AND consumer_id IS NULL
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		)
		RETURNING id, queue, actor, consumer_id, body, eta, created_at
	`, consumerID, queue, limit)
	if err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// AckMessage deletes the message row (successful completion), whatever its
// ETA. ClaimMessages does not filter on ETA: a delayed-queue row claimed
// before its ETA is put back by the Consumer (RequeueDelayed) rather than
// delivered, and the Consumer's own ack skips any message that still carries
// an ETA, so this is only called for rows ready to be finalized.
func (s *PostgresStore) AckMessage(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dramatiq_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

// NackMessage deletes the message row and records the failure reason; the
// caller is responsible for logging the full message body at the nack
// point, per spec.md §7.
func (s *PostgresStore) NackMessage(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dramatiq_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("nack message: %w", err)
	}
	return nil
}

// PromoteDelayedMessage moves a delayed message whose ETA has passed into
// its base queue and clears consumer_id, in one atomic statement -- this is
// how SPEC_FULL.md's Open Question 2 (delayed-ack convergence) is resolved:
// there is only ever one code path, not two that must agree.
func (s *PostgresStore) PromoteDelayedMessage(ctx context.Context, id uuid.UUID, baseQueue string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE dramatiq_messages SET queue = $1, consumer_id = NULL, eta = NULL
		WHERE id = $2 AND eta IS NOT NULL AND eta <= NOW()
	`, baseQueue, id)
	if err != nil {
		return fmt.Errorf("promote delayed message: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("message %s not eligible for promotion", id)
	}
	return nil
}

// RequeueDelayed puts a delayed message back (clears consumer_id) without
// promoting it, for when its ETA has not yet arrived.
func (s *PostgresStore) RequeueDelayed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE dramatiq_messages SET consumer_id = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("requeue delayed message: %w", err)
	}
	return nil
}

// DeleteOtherMessagesForActor removes every message for actor across queues
// except keepID, used by the Scheduler to guarantee at most one pending
// message per scheduled actor (original_source's __ensure_enqueued cleanup).
func (s *PostgresStore) DeleteOtherMessagesForActor(ctx context.Context, actor string, queues []string, keepID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM dramatiq_messages
		WHERE actor = $1 AND queue = ANY($2) AND id != $3
	`, actor, queues, keepID)
	if err != nil {
		return fmt.Errorf("delete other messages for actor: %w", err)
	}
	return nil
}

// ReclaimLostMessages clears consumer_id on every message whose consumer_id
// points at a consumer row that no longer exists (property #3, "lost
// message recovery"). Uses the same SKIP LOCKED discipline as ClaimMessages
// so it never races a live consumer claiming the same row.
func (s *PostgresStore) ReclaimLostMessages(ctx context.Context) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE dramatiq_messages SET consumer_id = NULL
		WHERE id IN (
			SELECT m.id FROM dramatiq_messages m
			LEFT JOIN dramatiq_consumers c ON c.id = m.consumer_id
			WHERE m.consumer_id IS NOT NULL AND c.id IS NULL
			FOR UPDATE OF m SKIP LOCKED
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("reclaim lost messages: %w", err)
	}
	return ct.RowsAffected(), nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var body []byte
		if err := rows.Scan(&m.ID, &m.Queue, &m.Actor, &m.ConsumerID, &body, &m.ETA, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Body = body
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
