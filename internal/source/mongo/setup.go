package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const codeNamespaceExists = 48

// EnsurePreAndPostImages enables change stream pre- and post-images on a
// collection, creating it when missing. It is a no-op when images are
// already enabled and reports whether anything changed.
func EnsurePreAndPostImages(ctx context.Context, db *mongo.Database, collection string) (bool, error) {
	specs, err := db.ListCollectionSpecifications(ctx, bson.D{{Key: "name", Value: collection}})
	if err != nil {
		return false, fmt.Errorf("failed to inspect collection %s: %w", collection, err)
	}

	if len(specs) == 0 {
		opts := options.CreateCollection().SetChangeStreamPreAndPostImages(bson.D{{Key: "enabled", Value: true}})
		err := db.CreateCollection(ctx, collection, opts)
		if err == nil {
			return true, nil
		}
		var cmdErr mongo.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.Code != codeNamespaceExists {
			return false, fmt.Errorf("failed to create collection %s: %w", collection, err)
		}
		// Created concurrently; fall through to collMod.
	} else if imagesEnabled(specs[0].Options) {
		return false, nil
	}

	cmd := bson.D{
		{Key: "collMod", Value: collection},
		{Key: "changeStreamPreAndPostImages", Value: bson.D{{Key: "enabled", Value: true}}},
	}
	if err := db.RunCommand(ctx, cmd).Err(); err != nil {
		return false, fmt.Errorf("failed to enable pre- and post-images on %s: %w", collection, err)
	}
	return true, nil
}

func imagesEnabled(collOptions bson.Raw) bool {
	if collOptions == nil {
		return false
	}
	enabled, ok := collOptions.Lookup("changeStreamPreAndPostImages", "enabled").BooleanOK()
	return ok && enabled
}
