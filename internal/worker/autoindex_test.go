package worker

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestAutoindexPartialRunIsANoop(t *testing.T) {
	a := NewAutoindexPartial()
	err := a.Run(context.Background(), uuid.New(), autoindexPartialArgs{WebURI: "/content/foo/bar", Env: "prod"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
