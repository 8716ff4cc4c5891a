// Package source defines the event source adapter contract: an ordered,
// filtered, resumable subscription to one collection's change events.
package source

import (
	"context"
	"errors"

	"github.com/syntrixbase/propagator/internal/events"
	"github.com/syntrixbase/propagator/internal/partition"
)

// ErrSubscriptionClosed is returned by Next after Close, or when the
// underlying log ended the subscription.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Options control which event attributes are materialized.
type Options struct {
	// PreImage requests the pre-mutation image for update and delete. When
	// set, post-images are also taken as of the event rather than looked up
	// later, so field-level diffs line up with the event.
	PreImage bool
}

// Request describes one subscription.
type Request struct {
	Collection string
	Shard      partition.Shard
	// ResumeFrom resumes strictly after this position; nil starts from now.
	ResumeFrom events.Position
	Options    Options
}

// Source opens subscriptions.
type Source interface {
	Subscribe(ctx context.Context, req Request) (Subscription, error)
}

// Subscription is a lazy, ordered, infinite sequence of change events.
type Subscription interface {
	// Next blocks until the next event is available. It returns the context
	// error on cancellation and a transport error on connectivity loss.
	Next(ctx context.Context) (*events.ChangeEvent, error)

	// Close releases the subscription.
	Close(ctx context.Context) error
}
