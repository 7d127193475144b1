package worker

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/exodus-gw/exodus-gw/internal/logging"
	"github.com/exodus-gw/exodus-gw/internal/purgeclient"
	"github.com/exodus-gw/exodus-gw/internal/store"
)

var ostreeRefRe = regexp.MustCompile(`.*/ostree/repo/refs/heads/.*/(base|standard)$`)

// EnvironmentCacheConfig is the subset of EnvironmentConfig the Flusher
// needs, kept decoupled from internal/config to avoid an import cycle.
type EnvironmentCacheConfig struct {
	Name             string
	CacheFlushURLs   []string
	ARLTemplates     []string
	FastPurgeEnabled bool
}

// Flusher computes the set of URLs/ARLs to purge for a batch of paths and
// invokes the external purge client. Grounded line-for-line on
// original_source/exodus_gw/worker/cache.py's Flusher class.
type Flusher struct {
	paths []string
	env   EnvironmentCacheConfig
	purge *purgeclient.Client
}

func NewFlusher(paths []string, env EnvironmentCacheConfig, purge *purgeclient.Client) *Flusher {
	trimmed := make([]string, len(paths))
	for i, p := range paths {
		trimmed[i] = strings.TrimPrefix(p, "/")
	}
	return &Flusher{paths: trimmed, env: env, purge: purge}
}

// arlTTL matches the CDN edge's own TTL rule table. This logic MUST NOT
// drift from the edge's configuration (spec.md §4.6 step 5).
func arlTTL(p string) string {
	switch {
	case strings.HasSuffix(p, "/repodata/repomd.xml"), strings.HasSuffix(p, "/"):
		return "4h"
	case strings.HasSuffix(p, "/PULP_MANIFEST"),
		strings.HasSuffix(p, "/listing"),
		strings.Contains(p, "/repodata/"),
		ostreeRefRe.MatchString(p):
		return "10m"
	default:
		return "30d"
	}
}

// URLsForFlush expands every path into one URL per configured base, plus
// one ARL per configured template with {path} and {ttl} filled in.
func (f *Flusher) URLsForFlush() []string {
	var out []string
	for _, base := range f.env.CacheFlushURLs {
		for _, p := range f.paths {
			out = append(out, strings.TrimSuffix(base, "/")+"/"+p)
		}
	}
	for _, tmpl := range f.env.ARLTemplates {
		for _, p := range f.paths {
			arl := strings.NewReplacer("{path}", p, "{ttl}", arlTTL(p)).Replace(tmpl)
			out = append(out, arl)
		}
	}
	return out
}

func (f *Flusher) doFlush(ctx context.Context, urls []string) {
	if !f.env.FastPurgeEnabled || len(urls) == 0 {
		logging.Op().Info("fastpurge is not enabled for environment, skipping", "env", f.env.Name)
		return
	}
	for _, u := range urls {
		logging.Op().Info("fastpurge: flushing", "url", u)
	}
	responses, err := f.purge.PurgeByURL(ctx, urls)
	if err != nil {
		logging.Op().Error("fastpurge: purge request failed", "error", err)
		return
	}
	for _, r := range responses {
		logging.Op().Info("fastpurge: response", "response", r)
	}
}

// Run computes the flush set and invokes the purge client.
func (f *Flusher) Run(ctx context.Context) {
	urls := f.URLsForFlush()
	f.doFlush(ctx, urls)

	first := "<empty>"
	if len(urls) > 0 {
		first = urls[0]
	}
	verb := "Skipped"
	if f.env.FastPurgeEnabled {
		verb = "Completed"
	}
	logging.Op().Info(fmt.Sprintf("%s flush of %d URL(s) (%s, ...)", verb, len(urls), first))
}

// CacheFlush is the flush_cdn_cache actor body.
type CacheFlush struct {
	st         *store.Store
	purge      *purgeclient.Client
	envLookup  func(env string) (EnvironmentCacheConfig, bool)
}

func NewCacheFlush(st *store.Store, purge *purgeclient.Client, envLookup func(env string) (EnvironmentCacheConfig, bool)) *CacheFlush {
	return &CacheFlush{st: st, purge: purge, envLookup: envLookup}
}

type cacheFlushArgs struct {
	Paths []string `json:"paths"`
	Env   string   `json:"env"`
}

// Run claims the bound task with a single atomic UPDATE (Go/pgx has no
// session-lock-drop hazard, so the original's two-phase "set IN_PROGRESS,
// commit, reload, re-verify" collapses to one statement -- spec.md §4.6),
// checks its deadline, then runs the Flusher.
func (c *CacheFlush) Run(ctx context.Context, msgID uuid.UUID, args cacheFlushArgs) error {
	task, err := c.st.ClaimTaskForProcessing(ctx, msgID)
	if err != nil {
		return fmt.Errorf("claim cache-flush task: %w", err)
	}
	if task == nil {
		existing, err := c.st.GetTask(ctx, msgID)
		if err != nil || existing.State != store.TaskInProgress {
			logging.Op().Error("cache-flush task in unexpected state", "task", msgID)
			return nil
		}
		task = existing
	}

	if task.Deadline != nil && task.Deadline.Before(time.Now()) {
		logging.Op().Error("cache-flush task exceeded deadline", "task", task.ID, "deadline", task.Deadline)
		return c.st.SetTaskState(ctx, task.ID, store.TaskFailed)
	}

	envCfg, ok := c.envLookup(args.Env)
	if !ok {
		return fmt.Errorf("unknown environment %s", args.Env)
	}

	flusher := NewFlusher(args.Paths, envCfg, c.purge)
	flusher.Run(ctx)

	return c.st.SetTaskState(ctx, task.ID, store.TaskComplete)
}
