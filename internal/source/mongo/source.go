// Package mongo implements source.Source on MongoDB change streams.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/propagator/internal/events"
	"github.com/syntrixbase/propagator/internal/source"
)

// Connect opens a client and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	clientOpts := options.Client().ApplyURI(uri)
	if clientOpts.ConnectTimeout == nil {
		clientOpts.SetConnectTimeout(10 * time.Second)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping source: %w", err)
	}
	return client, nil
}

// Source opens change streams on collections of one database.
type Source struct {
	db     *mongo.Database
	logger *slog.Logger
}

// New creates a Source for db.
func New(db *mongo.Database, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		db:     db,
		logger: logger.With("component", "mongo-source"),
	}
}

// Subscribe implements source.Source.
func (s *Source) Subscribe(ctx context.Context, req source.Request) (source.Subscription, error) {
	if err := req.Shard.Validate(); err != nil {
		return nil, err
	}

	stream, err := s.db.Collection(req.Collection).Watch(ctx, buildPipeline(req.Shard), watchOptions(req))
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream on %s: %w", req.Collection, err)
	}

	return &subscription{
		stream:     stream,
		collection: req.Collection,
		logger:     s.logger.With("collection", req.Collection, "stream", req.Shard.StreamID(req.Collection)),
	}, nil
}

// watchOptions maps the request onto change stream options.
func watchOptions(req source.Request) *options.ChangeStreamOptions {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if req.Options.PreImage {
		// Images as of the event; updateLookup would return the current
		// document and break diffs when several updates are in flight.
		opts.SetFullDocument(options.WhenAvailable)
		opts.SetFullDocumentBeforeChange(options.WhenAvailable)
	}
	if !req.ResumeFrom.IsZero() {
		opts.SetResumeAfter(bson.Raw(req.ResumeFrom))
	}
	return opts
}

type subscription struct {
	stream     *mongo.ChangeStream
	collection string
	logger     *slog.Logger
}

// Next implements source.Subscription.
func (s *subscription) Next(ctx context.Context) (*events.ChangeEvent, error) {
	for {
		if !s.stream.Next(ctx) {
			if err := s.stream.Err(); err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, source.ErrSubscriptionClosed
		}

		var raw rawEvent
		if err := s.stream.Decode(&raw); err != nil {
			s.logger.Error("Failed to decode change event", append(skippedAttrs(s.stream.Current), "error", err)...)
			continue
		}

		evt, err := normalize(s.collection, &raw)
		if err != nil {
			s.logger.Error("Failed to normalize change event", append(skippedAttrs(s.stream.Current), "error", err)...)
			continue
		}
		return evt, nil
	}
}

// skippedAttrs identifies a change document that is skipped, reading only
// the fields that survive a failed decode.
func skippedAttrs(current bson.Raw) []any {
	var key any
	if v, err := current.LookupErr("documentKey", "_id"); err == nil {
		_ = v.Unmarshal(&key)
	}
	var position events.Position
	if v, err := current.LookupErr("_id"); err == nil {
		position = events.Position(v.Value)
	}
	op, _ := current.Lookup("operationType").StringValueOK()
	return []any{
		"position", position.Fingerprint(),
		"operation", op,
		"document", events.FormatID(key),
	}
}

// Close implements source.Subscription.
func (s *subscription) Close(ctx context.Context) error {
	return s.stream.Close(ctx)
}
