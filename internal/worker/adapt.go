package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/exodus-gw/exodus-gw/internal/broker"
	"github.com/exodus-gw/exodus-gw/internal/reqctx"
)

// adaptTyped wraps a (ctx, msgID, T) actor body as a broker.ActorFunc,
// recovering the message id from the context the Consumer attaches before
// invocation (reqctx.WithMessageID) and unmarshaling args into T. Every
// typed actor body in this package goes through this adapter so
// declaration call sites stay uniform.
func adaptTyped[T any](run func(ctx context.Context, msgID uuid.UUID, args T) error) broker.ActorFunc {
	return func(ctx context.Context, raw json.RawMessage) error {
		var args T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return fmt.Errorf("unmarshal actor args: %w", err)
			}
		}
		return run(ctx, reqctx.MessageID(ctx), args)
	}
}

// AdaptCommit, AdaptCacheFlush, and AdaptDeployConfig expose each worker's
// typed Run method as a broker.ActorFunc for use at Broker.Declare call
// sites (cmd/exodus-gw-worker).
func AdaptCommit(c *Commit) broker.ActorFunc {
	return adaptTyped(c.Run)
}

func AdaptCacheFlush(c *CacheFlush) broker.ActorFunc {
	return adaptTyped(c.Run)
}

func AdaptDeployConfig(d *DeployConfig) broker.ActorFunc {
	return adaptTyped(d.Run)
}

func AdaptAutoindexPartial(a *AutoindexPartial) broker.ActorFunc {
	return adaptTyped(a.Run)
}

func AdaptCompleteDeployConfig(c *CompleteDeployConfig) broker.ActorFunc {
	return adaptTyped(c.Run)
}

// AdaptJanitor takes no typed args at all (run_janitor carries none), so it
// drops straight to broker.ActorFunc instead of going through adaptTyped.
func AdaptJanitor(j *Janitor) broker.ActorFunc {
	return func(ctx context.Context, _ json.RawMessage) error {
		return j.Run(ctx)
	}
}
