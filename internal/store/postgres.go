package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore owns the connection pool and the table names named in the
// spec's persisted state layout: publishes, items, tasks, commit_tasks,
// dramatiq_messages, dramatiq_consumers, published_paths.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

// ensureSchema applies idempotent DDL under a schema-lock (acquireSchemaLock)
// so that concurrent process boots apply the schema at most once, per
// spec.md §6's "migrations applied at process start under a schema-lock".
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ensure schema: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := acquireSchemaLock(ctx, tx); err != nil {
		return err
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS publishes (
			id UUID PRIMARY KEY,
			env TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'PENDING',
			updated TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS items (
			id UUID PRIMARY KEY,
			publish_id UUID NOT NULL REFERENCES publishes(id) ON DELETE CASCADE,
			web_uri TEXT NOT NULL,
			object_key TEXT NOT NULL,
			link_to TEXT,
			content_type TEXT,
			updated TIMESTAMPTZ,
			UNIQUE (publish_id, web_uri)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id UUID PRIMARY KEY,
			state TEXT NOT NULL DEFAULT 'NOT_STARTED',
			updated TIMESTAMPTZ,
			deadline TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS commit_tasks (
			id UUID PRIMARY KEY REFERENCES tasks(id) ON DELETE CASCADE,
			publish_id UUID NOT NULL REFERENCES publishes(id) ON DELETE CASCADE,
			commit_mode TEXT NOT NULL DEFAULT 'phase1'
		)`,
		`CREATE TABLE IF NOT EXISTS published_paths (
			id BIGSERIAL PRIMARY KEY,
			env TEXT NOT NULL,
			web_uri TEXT NOT NULL,
			updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (env, web_uri)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_published_paths_env_uri ON published_paths(env, web_uri)`,
		`CREATE TABLE IF NOT EXISTS dramatiq_consumers (
			id TEXT PRIMARY KEY,
			last_alive TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS dramatiq_messages (
			id UUID PRIMARY KEY,
			queue TEXT NOT NULL,
			actor TEXT NOT NULL,
			consumer_id TEXT REFERENCES dramatiq_consumers(id) ON DELETE SET NULL,
			body JSONB NOT NULL,
			eta TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_queue_unclaimed ON dramatiq_messages(queue, created_at) WHERE consumer_id IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_messages_consumer ON dramatiq_messages(consumer_id)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	return tx.Commit(ctx)
}
