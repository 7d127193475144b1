package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/exodus-gw/exodus-gw/internal/logging"
)

// AutoindexPartial is the autoindex_partial actor's body. The original
// project's autoindex.py generates actual index-page content by fetching
// repodata from the object store and re-uploading generated pages through
// the same presigned-upload machinery spec.md §1 and SPEC_FULL.md §1 place
// out of scope; this body only records that a commit produced an
// entry-point file eligible for autoindexing, so the enqueue side (the
// Commit worker) has a real declared actor to deliver to instead of
// nacking on every publish.
type AutoindexPartial struct{}

func NewAutoindexPartial() *AutoindexPartial {
	return &AutoindexPartial{}
}

type autoindexPartialArgs struct {
	WebURI string `json:"web_uri"`
	Env    string `json:"env"`
}

func (a *AutoindexPartial) Run(ctx context.Context, _ uuid.UUID, args autoindexPartialArgs) error {
	logging.Op().Info("autoindex eligible entry-point published, skipping index generation (out of scope)",
		"web_uri", args.WebURI, "env", args.Env)
	return nil
}
