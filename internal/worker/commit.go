// Package worker implements the actor bodies run by the Consumer: the
// commit worker, cache flusher, and deploy-config worker, plus the
// janitor's periodic sweep. Grounded on
// original_source/exodus_gw/worker/publish.py, cache.py, and deploy.py.
package worker

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/exodus-gw/exodus-gw/internal/broker"
	"github.com/exodus-gw/exodus-gw/internal/logging"
	"github.com/exodus-gw/exodus-gw/internal/metatable"
	"github.com/exodus-gw/exodus-gw/internal/store"
)

// CommitActorName and CacheFlushActorName name the declared actors,
// referenced by the Scheduler (for none of these, which aren't scheduled)
// and by enqueue call sites across the package.
const (
	CommitActorName           = "commit"
	CacheFlushActorName       = "flush_cdn_cache"
	DeployConfigActorName     = "deploy_config"
	CompleteDeployActorName   = "complete_deploy_config_task"
	AutoindexPartialActorName = "autoindex_partial"
)

// Commit is the commit-worker actor body: partitions a publish's items,
// batch-writes them to the external metadata table, rolls back on partial
// failure, and transitions task/publish state. Grounded line-for-line on
// publish.py's commit().
type Commit struct {
	st             *store.Store
	br             *broker.Broker
	metatables     MetatableLookup
	entryPointFiles map[string]bool
	batchSize      int
	cacheFlushQueue string
}

// MetatableLookup resolves the metadata-table client for an environment,
// since each environment has its own AWS profile/table.
type MetatableLookup func(env string) (*metatable.Client, error)

func NewCommit(st *store.Store, br *broker.Broker, metatables MetatableLookup, entryPointFiles []string, batchSize int, cacheFlushQueue string) *Commit {
	set := make(map[string]bool, len(entryPointFiles))
	for _, f := range entryPointFiles {
		set[f] = true
	}
	return &Commit{
		st:              st,
		br:              br,
		metatables:      metatables,
		entryPointFiles: set,
		batchSize:       batchSize,
		cacheFlushQueue: cacheFlushQueue,
	}
}

type commitArgs struct {
	PublishID uuid.UUID `json:"publish_id"`
	Env       string    `json:"env"`
	FromDate  string    `json:"from_date"`
}

// Run is the actor body; msgID is the broker message id, which doubles as
// the CommitTask's id.
func (c *Commit) Run(ctx context.Context, msgID uuid.UUID, args commitArgs) error {
	task, err := c.st.GetCommitTask(ctx, msgID)
	if err != nil {
		return fmt.Errorf("load commit task: %w", err)
	}
	if task.State != store.TaskNotStarted && task.State != store.TaskInProgress {
		logging.Op().Warn("commit task in unexpected state, skipping", "task", task.ID, "state", task.State)
		return nil
	}

	publish, err := c.st.GetPublish(ctx, args.PublishID)
	if err != nil {
		return fmt.Errorf("load publish: %w", err)
	}
	if publish.State != store.PublishCommitting {
		logging.Op().Warn("publish in unexpected state, failing task", "publish", publish.ID, "state", publish.State)
		return c.st.SetTaskState(ctx, task.ID, store.TaskFailed)
	}

	items, err := c.st.LoadPublishItems(ctx, publish.ID)
	if err != nil {
		return fmt.Errorf("load publish items: %w", err)
	}
	if len(items) == 0 {
		return c.finish(ctx, task.ID, publish.ID, nil)
	}

	var regular, entryPoints []store.Item
	for _, it := range items {
		if c.entryPointFiles[path.Base(it.WebURI)] {
			entryPoints = append(entryPoints, it)
		} else {
			regular = append(regular, it)
		}
	}

	if err := c.st.SetTaskState(ctx, task.ID, store.TaskInProgress); err != nil {
		return fmt.Errorf("set task in progress: %w", err)
	}

	mt, err := c.metatables(args.Env)
	if err != nil {
		return fmt.Errorf("resolve metadata table client for env %s: %w", args.Env, err)
	}

	progress := NewProgressLogger(fmt.Sprintf("Writing publish %s items", publish.ID), len(items), 5*time.Second)

	var written []store.Item
	regularWritten := len(regular) == 0
	if len(regular) > 0 {
		if err := c.writeBatches(ctx, mt, regular, args.FromDate, false, progress); err != nil {
			logging.Op().Error("writing regular items failed, rolling back", "publish", publish.ID, "error", err)
			return c.rollbackAndFail(ctx, mt, task.ID, publish.ID, regular, args.FromDate)
		}
		regularWritten = true
		written = append(written, regular...)
	}

	entryPointsWritten := len(entryPoints) == 0
	if regularWritten && len(entryPoints) > 0 {
		if err := c.writeBatches(ctx, mt, entryPoints, args.FromDate, false, progress); err != nil {
			logging.Op().Error("writing entry-point items failed, rolling back", "publish", publish.ID, "error", err)
			return c.rollbackAndFail(ctx, mt, task.ID, publish.ID, append(written, entryPoints...), args.FromDate)
		}
		entryPointsWritten = true
		written = append(written, entryPoints...)
	}

	if !regularWritten || (len(entryPoints) > 0 && !entryPointsWritten) {
		return c.rollbackAndFail(ctx, mt, task.ID, publish.ID, written, args.FromDate)
	}

	return c.finish(ctx, task.ID, publish.ID, items)
}

func (c *Commit) writeBatches(ctx context.Context, mt *metatable.Client, items []store.Item, fromDate string, deleteMode bool, progress *ProgressLogger) error {
	for start := 0; start < len(items); start += c.batchSize {
		end := start + c.batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := make([]metatable.Entry, 0, end-start)
		for _, it := range items[start:end] {
			e := metatable.Entry{WebURI: it.WebURI, FromDate: fromDate, ObjectKey: it.ObjectKey}
			if it.LinkTo != nil {
				e.LinkTo = *it.LinkTo
			}
			if it.ContentType != nil {
				e.ContentType = *it.ContentType
			}
			batch = append(batch, e)
		}
		if err := mt.WriteBatch(ctx, batch, deleteMode, 5); err != nil {
			return err
		}
		progress.Update(end - start)
	}
	return nil
}

func (c *Commit) rollbackAndFail(ctx context.Context, mt *metatable.Client, taskID, publishID uuid.UUID, written []store.Item, fromDate string) error {
	if len(written) > 0 {
		if err := c.writeBatches(ctx, mt, written, fromDate, true, NewProgressLogger("Rolling back publish items", len(written), 5*time.Second)); err != nil {
			// Best-effort: log and proceed with the state transition anyway
			// (spec.md §4.5 step 5's documented partial-failure semantics).
			logging.Op().Error("rollback batch delete failed", "publish", publishID, "error", err)
		}
	}
	if err := c.st.SetTaskState(ctx, taskID, store.TaskFailed); err != nil {
		logging.Op().Error("set task failed failed", "task", taskID, "error", err)
	}
	if err := c.st.SetPublishState(ctx, publishID, store.PublishFailed); err != nil {
		logging.Op().Error("set publish failed failed", "publish", publishID, "error", err)
	}
	return nil
}

// autoindexRepomdSuffix and autoindexPulpManifestSuffix are the only two
// entry-point shapes that trigger autoindex_partial, per
// original_source/exodus_gw/worker/autoindex.py's repomd_xml_items/
// pulp_manifest_items (both filter on Item.web_uri.like, not on basename
// membership in entry_point_files -- a bare ".asc" signature file never
// matches either and must not enqueue autoindex work).
const (
	autoindexRepomdSuffix       = "/repodata/repomd.xml"
	autoindexPulpManifestSuffix = "/PULP_MANIFEST"
)

func isAutoindexEntryPoint(webURI string) bool {
	return strings.HasSuffix(webURI, autoindexRepomdSuffix) || strings.HasSuffix(webURI, autoindexPulpManifestSuffix)
}

func (c *Commit) finish(ctx context.Context, taskID, publishID uuid.UUID, items []store.Item) error {
	if err := c.st.SetTaskState(ctx, taskID, store.TaskComplete); err != nil {
		return fmt.Errorf("set task complete: %w", err)
	}
	if err := c.st.SetPublishState(ctx, publishID, store.PublishCommitted); err != nil {
		return fmt.Errorf("set publish committed: %w", err)
	}

	publish, err := c.st.GetPublish(ctx, publishID)
	if err != nil {
		return fmt.Errorf("reload publish: %w", err)
	}

	var paths []string
	var entryPointPaths []string
	for _, it := range items {
		if it.ObjectKey == store.AbsentObjectKey {
			continue
		}
		if err := c.st.UpsertPublishedPath(ctx, publish.Env, it.WebURI); err != nil {
			logging.Op().Error("record published path failed", "web_uri", it.WebURI, "error", err)
		}
		paths = append(paths, it.WebURI)
		if isAutoindexEntryPoint(it.WebURI) {
			entryPointPaths = append(entryPointPaths, it.WebURI)
		}
	}

	if len(paths) > 0 {
		sort.Strings(paths)
		flushArgs, err := marshalArgs(map[string]any{"paths": paths, "env": publish.Env})
		if err != nil {
			return fmt.Errorf("marshal cache-flush args: %w", err)
		}
		if _, err := c.br.Enqueue(ctx, CacheFlushActorName, c.cacheFlushQueue, flushArgs, 0); err != nil {
			logging.Op().Error("enqueue cache flush failed", "publish", publishID, "error", err)
		}
	}

	for _, p := range entryPointPaths {
		autoArgs, err := marshalArgs(map[string]any{"web_uri": p, "env": publish.Env})
		if err != nil {
			logging.Op().Error("marshal autoindex args failed", "error", err)
			continue
		}
		if _, err := c.br.Enqueue(ctx, AutoindexPartialActorName, c.cacheFlushQueue, autoArgs, 0); err != nil {
			logging.Op().Error("enqueue autoindex-partial failed", "web_uri", p, "error", err)
		}
	}

	return nil
}
