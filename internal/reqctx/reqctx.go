// Package reqctx carries a correlation id through a request/enqueue/actor
// call chain so that logs on both sides of a queue hop can be tied back to
// the request that originated the work.
package reqctx

import (
	"context"

	"github.com/google/uuid"
)

type correlationIDKey struct{}
type messageIDKey struct{}

// WithMessageID returns a context carrying the broker message id currently
// being delivered, so actor bodies that need their own task/publish row
// (whose id equals the message id, see store.Task) can recover it without
// the Consumer threading it through every ActorFunc signature.
func WithMessageID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, messageIDKey{}, id)
}

// MessageID returns the message id carried by ctx, or the zero UUID if none
// is set.
func MessageID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(messageIDKey{}).(uuid.UUID)
	return id
}

// WithCorrelationID returns a context carrying id as the active correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID returns the correlation id carried by ctx, or "" if none is set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// NewCorrelationID generates a fresh correlation id for requests that don't
// already carry one.
func NewCorrelationID() string {
	return uuid.New().String()
}

// EnsureCorrelationID returns ctx unchanged if it already carries a
// correlation id, otherwise returns a context with a freshly generated one.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if CorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, NewCorrelationID())
}
