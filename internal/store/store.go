// Package store is the sole data-access boundary onto the relational
// database: publishes, items, tasks, commit tasks, messages, consumers, and
// published paths. No business logic lives here beyond what's required to
// preserve the invariants of the data model (uniqueness, row-locking,
// upserts); every other component receives a *Store handle and uses it to
// open short transactions.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting store methods
// run either against the pool directly or against a transaction bound by a
// caller (the Broker's bind/unbind contract, see internal/broker).
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the full typed data-access surface used by every other component.
type Store struct {
	*PostgresStore
}

// NewStore wraps a ready PostgresStore.
func NewStore(pg *PostgresStore) *Store {
	return &Store{PostgresStore: pg}
}

func (s *Store) Ping(ctx context.Context) error {
	if s.PostgresStore == nil {
		return fmt.Errorf("store not configured")
	}
	return s.PostgresStore.Ping(ctx)
}

func (s *Store) Close() error {
	if s.PostgresStore == nil {
		return nil
	}
	return s.PostgresStore.Close()
}
