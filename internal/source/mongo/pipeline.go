package mongo

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/syntrixbase/propagator/internal/partition"
)

// watchedOperations are the only operation types delivered; replace is
// normalized to update.
var watchedOperations = bson.A{"insert", "update", "replace", "delete"}

// buildPipeline builds the change stream pipeline for one shard.
func buildPipeline(shard partition.Shard) mongo.Pipeline {
	match := bson.D{
		{Key: "operationType", Value: bson.D{{Key: "$in", Value: watchedOperations}}},
	}
	if shard.IsSharded() {
		match = append(match, bson.E{Key: "$expr", Value: shardExpr(shard)})
	}
	return mongo.Pipeline{{{Key: "$match", Value: match}}}
}

// shardExpr evaluates partition.ShardOf on the server:
//
//	((hash(documentKey._id) % n) + n) % n == index
func shardExpr(shard partition.Shard) bson.D {
	n := int64(shard.Count)
	hash := bson.D{{Key: "$toHashedIndexKey", Value: "$documentKey._id"}}
	rem := bson.D{{Key: "$mod", Value: bson.A{hash, n}}}
	nonNeg := bson.D{{Key: "$mod", Value: bson.A{bson.D{{Key: "$add", Value: bson.A{rem, n}}}, n}}}
	return bson.D{{Key: "$eq", Value: bson.A{nonNeg, int64(shard.Index)}}}
}
