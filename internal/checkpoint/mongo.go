package checkpoint

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/propagator/internal/events"
)

// DefaultCollection holds one document per stream identifier.
const DefaultCollection = "_propagator_resume"

// MongoStore implements Store using MongoDB.
type MongoStore struct {
	collection *mongo.Collection
}

// checkpointDoc is the MongoDB document structure for checkpoints.
type checkpointDoc struct {
	ID        string    `bson:"_id"`
	Token     string    `bson:"token"` // Base64-encoded position
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore creates a new MongoDB-backed checkpoint store.
// An empty collection name selects DefaultCollection.
func NewMongoStore(db *mongo.Database, collection string) *MongoStore {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoStore{collection: db.Collection(collection)}
}

// Get implements Store.
func (s *MongoStore) Get(ctx context.Context, streamID string) (events.Position, error) {
	var doc checkpointDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": streamID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint %q: %w", streamID, err)
	}

	token, err := base64.StdEncoding.DecodeString(doc.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %q: %w", streamID, err)
	}
	return events.Position(token), nil
}

// Set implements Store.
func (s *MongoStore) Set(ctx context.Context, streamID string, pos events.Position) error {
	if pos.IsZero() {
		return nil
	}

	doc := checkpointDoc{
		ID:        streamID,
		Token:     base64.StdEncoding.EncodeToString(pos),
		UpdatedAt: time.Now(),
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": streamID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save checkpoint %q: %w", streamID, err)
	}
	return nil
}
