package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/syntrixbase/propagator/internal/events"
)

// DefaultBucket is the KV bucket used when none is configured.
const DefaultBucket = "propagator_resume"

// NATSStore implements Store on a JetStream KeyValue bucket. Values are the
// raw position bytes.
type NATSStore struct {
	kv jetstream.KeyValue
}

// NewNATSStore wraps an existing bucket.
func NewNATSStore(kv jetstream.KeyValue) *NATSStore {
	return &NATSStore{kv: kv}
}

// OpenNATSStore creates or opens the bucket and wraps it. Creation is
// attempted up to maxRetries times.
func OpenNATSStore(ctx context.Context, js jetstream.JetStream, bucket string, maxRetries int) (*NATSStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	kv, err := EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "stream resume positions",
		History:     1,
		Storage:     jetstream.FileStorage,
	}, maxRetries)
	if err != nil {
		return nil, err
	}
	return NewNATSStore(kv), nil
}

// Get implements Store.
func (s *NATSStore) Get(ctx context.Context, streamID string) (events.Position, error) {
	entry, err := s.kv.Get(ctx, streamID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint %q: %w", streamID, err)
	}
	return events.Position(entry.Value()).Clone(), nil
}

// Set implements Store.
func (s *NATSStore) Set(ctx context.Context, streamID string, pos events.Position) error {
	if pos.IsZero() {
		return nil
	}
	if _, err := s.kv.Put(ctx, streamID, pos); err != nil {
		return fmt.Errorf("failed to save checkpoint %q: %w", streamID, err)
	}
	return nil
}

// EnsureBucket creates or opens a KV bucket, retrying with exponential
// backoff. Concurrent workers racing to create the same bucket both end up
// with a handle to it.
func EnsureBucket(ctx context.Context, js jetstream.JetStream, cfg jetstream.KeyValueConfig, maxRetries int) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		kv, err := js.CreateKeyValue(ctx, cfg)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, err := js.KeyValue(ctx, cfg.Bucket)
			if err == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", err)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		// 10ms, 20ms, 40ms...
		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to ensure KV bucket %q after %d attempts: %w", cfg.Bucket, maxRetries, lastErr)
}
