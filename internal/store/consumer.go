package store

import (
	"context"
	"fmt"
	"time"
)

// Consumer's identity is "<queue>-<broker-uuid>"; its single attribute is
// last_alive. See spec.md §3.
type Consumer struct {
	ID        string
	LastAlive time.Time
}

// InsertConsumer creates a consumer row on Consumer.Start (spec.md §4.3).
func (s *PostgresStore) InsertConsumer(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dramatiq_consumers (id, last_alive) VALUES ($1, NOW())
		ON CONFLICT (id) DO UPDATE SET last_alive = NOW()
	`, id)
	if err != nil {
		return fmt.Errorf("insert consumer: %w", err)
	}
	return nil
}

// Heartbeat updates this consumer's last_alive to now.
func (s *PostgresStore) Heartbeat(ctx context.Context, id string) error {
	ct, err := s.pool.Exec(ctx, `UPDATE dramatiq_consumers SET last_alive = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("consumer not found: %s", id)
	}
	return nil
}

// DeleteConsumer removes this consumer's row on Consumer.Close.
func (s *PostgresStore) DeleteConsumer(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dramatiq_consumers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete consumer: %w", err)
	}
	return nil
}

// DeleteDeadConsumers deletes consumers whose last_alive predates timeout
// (property #4, "dead-consumer eviction"), returning how many were removed.
func (s *PostgresStore) DeleteDeadConsumers(ctx context.Context, timeout time.Duration) (int64, error) {
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM dramatiq_consumers WHERE last_alive < NOW() - $1::interval
	`, timeout.String())
	if err != nil {
		return 0, fmt.Errorf("delete dead consumers: %w", err)
	}
	return ct.RowsAffected(), nil
}
