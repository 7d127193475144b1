package metatable

import (
	"context"
	"testing"
)

func TestWriteBatchRejectsOversizedBatch(t *testing.T) {
	c := &Client{table: "test-table"}
	entries := make([]Entry, MaxBatchSize+1)
	err := c.WriteBatch(context.Background(), entries, false, 1)
	if err == nil {
		t.Fatal("expected an error for a batch exceeding MaxBatchSize")
	}
}

func TestWriteBatchEmptyIsANoop(t *testing.T) {
	c := &Client{table: "test-table"}
	if err := c.WriteBatch(context.Background(), nil, false, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
