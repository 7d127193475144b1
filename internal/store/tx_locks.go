package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schemaLockKey is an arbitrary fixed advisory-lock key. Holding it for the
// duration of schema bootstrap ensures that when multiple process instances
// boot concurrently against an empty database, only one of them actually
// runs the CREATE TABLE statements; the others block until it commits and
// then find the schema already in place.
const schemaLockKey int64 = 0x65786f6475735f67 // "exodus_g"

func acquireSchemaLock(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	return nil
}
