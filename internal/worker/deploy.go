package worker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/exodus-gw/exodus-gw/internal/alias"
	"github.com/exodus-gw/exodus-gw/internal/broker"
	"github.com/exodus-gw/exodus-gw/internal/logging"
	"github.com/exodus-gw/exodus-gw/internal/purgeclient"
	"github.com/exodus-gw/exodus-gw/internal/store"
)

// AliasEntry is one row of the external table's alias configuration: a
// src->dest mapping plus the set of path patterns excluded from it.
// Grounded on deploy.py's `ddb.aliases_for_flush` tuples (src, dest,
// exclusions).
type AliasEntry struct {
	Src        string
	Dest       string
	Exclusions []string
}

// DeployConfig is the deploy_config actor body: writes a validated config
// blob to the external table, diffs aliases against the previous
// configuration, and computes which published paths need a cache flush.
// Grounded on original_source/exodus_gw/worker/deploy.py's deploy_config.
type DeployConfig struct {
	st             *store.Store
	br             *broker.Broker
	metatables     MetatableLookup
	queue          string
	configCacheTTL time.Duration
	listingFlush   bool
	// previousAliases resolves the alias set as it stood before this
	// config write, keyed by env; the original reads this from the same
	// external table it's about to overwrite, so Run calls it before
	// writing the new config.
	previousAliases func(env string) ([]AliasEntry, error)
	currentAliases  func(env string) ([]AliasEntry, error)
}

func NewDeployConfig(st *store.Store, br *broker.Broker, metatables MetatableLookup, queue string, configCacheTTL time.Duration, listingFlush bool, previousAliases, currentAliases func(env string) ([]AliasEntry, error)) *DeployConfig {
	return &DeployConfig{
		st: st, br: br, metatables: metatables, queue: queue,
		configCacheTTL: configCacheTTL, listingFlush: listingFlush,
		previousAliases: previousAliases, currentAliases: currentAliases,
	}
}

type deployConfigArgs struct {
	Config   map[string]any `json:"config"`
	Env      string         `json:"env"`
	FromDate string         `json:"from_date"`
}

func (d *DeployConfig) Run(ctx context.Context, msgID uuid.UUID, args deployConfigArgs) error {
	task, err := d.st.GetTask(ctx, msgID)
	if err != nil {
		return fmt.Errorf("load deploy-config task: %w", err)
	}
	if task.State != store.TaskNotStarted && task.State != store.TaskInProgress {
		logging.Op().Warn("deploy-config task in unexpected state, skipping", "task", task.ID, "state", task.State)
		return nil
	}

	originalAliases, err := d.previousAliases(args.Env)
	if err != nil {
		return fmt.Errorf("load previous aliases: %w", err)
	}

	if err := d.st.SetTaskState(ctx, task.ID, store.TaskInProgress); err != nil {
		return fmt.Errorf("set task in progress: %w", err)
	}

	mt, err := d.metatables(args.Env)
	if err != nil {
		return fmt.Errorf("resolve metadata table client for env %s: %w", args.Env, err)
	}

	blob, err := marshalArgs(args.Config)
	if err != nil {
		return fmt.Errorf("marshal config blob: %w", err)
	}
	if err := mt.WriteConfig(ctx, blob, args.FromDate); err != nil {
		logging.Op().Error("deploy-config write failed", "task", task.ID, "error", err)
		return d.st.SetTaskState(ctx, task.ID, store.TaskFailed)
	}

	flushPaths, err := d.computeFlushPaths(ctx, args.Env, originalAliases)
	if err != nil {
		logging.Op().Error("compute flush paths failed", "task", task.ID, "error", err)
	}

	if d.listingFlush {
		for lp := range listingPathsForFlush(args.Config) {
			flushPaths[lp] = true
		}
	}

	paths := make([]string, 0, len(flushPaths))
	for p := range flushPaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	completeArgs, err := marshalArgs(map[string]any{
		"task_id":     task.ID.String(),
		"env":         args.Env,
		"flush_paths": paths,
	})
	if err != nil {
		return fmt.Errorf("marshal complete-deploy args: %w", err)
	}
	if _, err := d.br.Enqueue(ctx, CompleteDeployActorName, d.queue, completeArgs, d.configCacheTTL); err != nil {
		return fmt.Errorf("enqueue complete-deploy task: %w", err)
	}
	return nil
}

// computeFlushPaths diffs originalAliases against the now-current alias
// set and returns the published paths whose cache must be invalidated,
// following deploy.py's src/dest-side diff.
func (d *DeployConfig) computeFlushPaths(ctx context.Context, env string, originalAliases []AliasEntry) (map[string]bool, error) {
	flushPaths := make(map[string]bool)

	currentAliases, err := d.currentAliases(env)
	if err != nil {
		return nil, fmt.Errorf("load current aliases: %w", err)
	}

	originalBySrc := make(map[string]string, len(originalAliases))
	originalExclusions := make(map[string][]string, len(originalAliases))
	for _, a := range originalAliases {
		originalBySrc[a.Src] = a.Dest
		originalExclusions[a.Src] = a.Exclusions
	}

	updatedBySrc := make(map[string]string, len(currentAliases))
	for _, a := range currentAliases {
		updatedBySrc[a.Src] = a.Dest
	}

	updatedPrefixes := make(map[string]bool)
	for _, a := range currentAliases {
		if prevDest, existed := originalBySrc[a.Src]; !existed || prevDest != a.Dest {
			updatedPrefixes[a.Src] = true
		}
	}

	var rules []alias.Alias
	for _, a := range currentAliases {
		if _, wasAliased := originalBySrc[a.Src]; wasAliased && !updatedPrefixes[a.Src] {
			rules = append(rules, alias.Alias{Src: a.Src, Dest: a.Dest})
		}
	}
	expandedPrefixes := make([]string, 0, len(updatedPrefixes))
	for p := range updatedPrefixes {
		expandedPrefixes = append(expandedPrefixes, p)
	}
	for _, p := range alias.ResolveAll(expandedPrefixes, rules) {
		updatedPrefixes[p] = true
	}

	for src := range updatedPrefixes {
		exclusions := originalExclusions[src]

		srcPaths, err := d.st.ListPublishedPathsUnderPrefix(ctx, env, src)
		if err != nil {
			return nil, fmt.Errorf("list published paths under %s: %w", src, err)
		}
		for _, pp := range srcPaths {
			if matchesAnyExclusion(pp.WebURI, exclusions) {
				continue
			}
			flushPaths[pp.WebURI] = true
		}

		if dest, ok := updatedBySrc[src]; ok {
			destPaths, err := d.st.ListPublishedPathsUnderPrefix(ctx, env, dest)
			if err != nil {
				return nil, fmt.Errorf("list published paths under %s: %w", dest, err)
			}
			for _, pp := range destPaths {
				if matchesAnyExclusion(pp.WebURI, exclusions) {
					continue
				}
				flushPaths[replacePrefix(pp.WebURI, dest, src)] = true
			}
		}
	}

	return flushPaths, nil
}

func matchesAnyExclusion(uri string, exclusions []string) bool {
	for _, pattern := range exclusions {
		if regexpMatch(pattern, uri) {
			return true
		}
	}
	return false
}

func replacePrefix(uri, oldPrefix, newPrefix string) string {
	if len(uri) >= len(oldPrefix) && uri[:len(oldPrefix)] == oldPrefix {
		return newPrefix + uri[len(oldPrefix):]
	}
	return uri
}

// CompleteDeployConfig is the complete_deploy_config_task actor body: it
// runs after config_cache_ttl has elapsed since deploy_config enqueued it,
// flushing the precomputed paths (already alias-resolved, so no alias
// lookup is needed here) and marking the task complete. Grounded on
// deploy.py's complete_deploy_config_task.
type CompleteDeployConfig struct {
	st        *store.Store
	envLookup func(env string) (EnvironmentCacheConfig, bool)
	purge     *purgeclient.Client
}

func NewCompleteDeployConfig(st *store.Store, envLookup func(env string) (EnvironmentCacheConfig, bool), purge *purgeclient.Client) *CompleteDeployConfig {
	return &CompleteDeployConfig{st: st, envLookup: envLookup, purge: purge}
}

type completeDeployConfigArgs struct {
	TaskID     uuid.UUID `json:"task_id"`
	Env        string    `json:"env"`
	FlushPaths []string  `json:"flush_paths"`
}

func (c *CompleteDeployConfig) Run(ctx context.Context, _ uuid.UUID, args completeDeployConfigArgs) error {
	task, err := c.st.GetTask(ctx, args.TaskID)
	if err != nil {
		return fmt.Errorf("load deploy-config task: %w", err)
	}
	if task.State != store.TaskInProgress {
		logging.Op().Warn("complete-deploy task in unexpected state, skipping", "task", task.ID, "state", task.State)
		return nil
	}

	if args.Env != "" && len(args.FlushPaths) > 0 {
		envCfg, ok := c.envLookup(args.Env)
		if !ok {
			return fmt.Errorf("unknown environment %s", args.Env)
		}
		flusher := NewFlusher(args.FlushPaths, envCfg, c.purge)
		flusher.Run(ctx)
	}

	return c.st.SetTaskState(ctx, task.ID, store.TaskComplete)
}

// listingPathsForFlush extracts listing paths from config whose values may
// influence the /listing endpoint's response, per deploy.py's
// _listing_paths_for_flush.
func listingPathsForFlush(config map[string]any) map[string]bool {
	out := make(map[string]bool)
	listing, ok := config["listing"].(map[string]any)
	if !ok {
		return out
	}
	for p := range listing {
		out[p+"/listing"] = true
	}
	return out
}
