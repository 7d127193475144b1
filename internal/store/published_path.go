package store

import (
	"context"
	"fmt"
)

// PublishedPath is a lightweight log of paths ever committed to the
// external table; consulted by the deploy-config worker to decide which
// paths need cache invalidation. See spec.md §3.
type PublishedPath struct {
	ID     int64
	Env    string
	WebURI string
}

// UpsertPublishedPath records that web_uri has been committed for env
// (idempotent on (env, web_uri), per spec.md §4.5 step 4).
func (s *PostgresStore) UpsertPublishedPath(ctx context.Context, env, webURI string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO published_paths (env, web_uri, updated) VALUES ($1, $2, NOW())
		ON CONFLICT (env, web_uri) DO UPDATE SET updated = NOW()
	`, env, webURI)
	if err != nil {
		return fmt.Errorf("upsert published path: %w", err)
	}
	return nil
}

// ListPublishedPathsUnderPrefix returns every PublishedPath in env whose
// web_uri is prefix or begins with prefix+"/" (used by the deploy-config
// worker's alias-diff, spec.md §4.7).
func (s *PostgresStore) ListPublishedPathsUnderPrefix(ctx context.Context, env, prefix string) ([]PublishedPath, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, env, web_uri FROM published_paths
		WHERE env = $1 AND (web_uri = $2 OR web_uri LIKE $3)
		ORDER BY web_uri
	`, env, prefix, prefix+"/%")
	if err != nil {
		return nil, fmt.Errorf("list published paths under prefix: %w", err)
	}
	defer rows.Close()

	var out []PublishedPath
	for rows.Next() {
		var p PublishedPath
		if err := rows.Scan(&p.ID, &p.Env, &p.WebURI); err != nil {
			return nil, fmt.Errorf("scan published path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
