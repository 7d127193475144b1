package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestDelayedQueueName(t *testing.T) {
	if got := DelayedQueueName("exodus-gw"); got != "exodus-gw.DQ" {
		t.Fatalf("got %q", got)
	}
}

// fakeDBTX records the SQL and args passed to Exec so NotifyChannel's
// statement shape can be checked without a real Postgres connection.
type fakeDBTX struct {
	execSQL  string
	execArgs []any
	execErr  error
}

func (f *fakeDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = sql
	f.execArgs = args
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not used by NotifyChannel")
}

func (f *fakeDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not used by NotifyChannel")
}

func TestNotifyChannelIssuesPgNotify(t *testing.T) {
	db := &fakeDBTX{}
	if err := NotifyChannel(context.Background(), db, "exodus-gw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.execSQL == "" {
		t.Fatal("expected Exec to be called")
	}
	if len(db.execArgs) != 1 || db.execArgs[0] != "exodus-gw" {
		t.Fatalf("got args %v, want [\"exodus-gw\"]", db.execArgs)
	}
}

func TestNotifyChannelPropagatesExecError(t *testing.T) {
	db := &fakeDBTX{execErr: context.DeadlineExceeded}
	if err := NotifyChannel(context.Background(), db, "exodus-gw"); err == nil {
		t.Fatal("expected an error when Exec fails")
	}
}
