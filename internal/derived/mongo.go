package derived

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore writes derived state to a MongoDB database. Counter updates run
// in multi-document transactions, so the database must be a replica set,
// which change streams require anyway.
type MongoStore struct {
	client        *mongo.Client
	articles      *mongo.Collection
	comments      *mongo.Collection
	tags          *mongo.Collection
	tagArticles   *mongo.Collection
	favoriteMarks *mongo.Collection
}

// NewMongoStore creates a store over the given database.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:        db.Client(),
		articles:      db.Collection(ArticlesCollection),
		comments:      db.Collection(CommentsCollection),
		tags:          db.Collection(TagsCollection),
		tagArticles:   db.Collection(TagArticlesCollection),
		favoriteMarks: db.Collection(FavoriteMarksCollection),
	}
}

// SetAuthorFields sets fields on every article and comment written by authorID.
func (s *MongoStore) SetAuthorFields(ctx context.Context, authorID any, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	filter := bson.M{AuthorKeyField: authorID}
	update := bson.M{"$set": fields}
	for _, coll := range []*mongo.Collection{s.articles, s.comments} {
		if _, err := coll.UpdateMany(ctx, filter, update); err != nil {
			return fmt.Errorf("failed to update author fields in %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// AddTag counts articleID under tag, creating the tag record if needed.
func (s *MongoStore) AddTag(ctx context.Context, tag, articleID string) error {
	id := tagMarkerID(tag, articleID)

	// Two shards creating the same tag race on its upsert. The loser sees a
	// duplicate key and succeeds on the second attempt as a plain update.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.transact(ctx, func(sc mongo.SessionContext) error {
			if err := mark(sc, s.tagArticles, id, true); err != nil {
				return err
			}
			_, err := s.tags.UpdateOne(sc,
				bson.M{"_id": tag},
				bson.M{
					"$setOnInsert": bson.M{"name": tag},
					"$inc":         bson.M{tagCountField: 1},
				},
				options.Update().SetUpsert(true))
			return err
		})
		if !mongo.IsDuplicateKeyError(err) {
			break
		}
	}
	if err != nil && !errors.Is(err, errUnchanged) {
		return fmt.Errorf("failed to add tag %q: %w", tag, err)
	}
	return nil
}

// RemoveTag uncounts articleID from tag and deletes the tag once its counter
// is no longer positive.
func (s *MongoStore) RemoveTag(ctx context.Context, tag, articleID string) error {
	err := s.transact(ctx, func(sc mongo.SessionContext) error {
		if err := mark(sc, s.tagArticles, tagMarkerID(tag, articleID), false); err != nil {
			return err
		}
		_, err := s.tags.UpdateOne(sc,
			bson.M{"_id": tag, tagCountField: bson.M{"$gt": 0}},
			bson.M{"$inc": bson.M{tagCountField: -1}})
		if err != nil {
			return err
		}
		_, err = s.tags.DeleteOne(sc, bson.M{"_id": tag, tagCountField: bson.M{"$lte": 0}})
		return err
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return fmt.Errorf("failed to remove tag %q: %w", tag, err)
	}
	return nil
}

// AddFavorite counts favoriteID on the article. It reports false when the
// article does not exist or already counts the favorite.
func (s *MongoStore) AddFavorite(ctx context.Context, articleID any, favoriteID string) (bool, error) {
	err := s.transact(ctx, func(sc mongo.SessionContext) error {
		if err := mark(sc, s.favoriteMarks, favoriteMarkerID(articleID, favoriteID), true); err != nil {
			return err
		}
		res, err := s.articles.UpdateOne(sc,
			bson.M{"_id": articleID},
			bson.M{"$inc": bson.M{favoriteCountField: 1}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return errUnchanged
		}
		return nil
	})
	return applied(err, "failed to add favorite")
}

// RemoveFavorite uncounts favoriteID from the article. It reports false when
// the article does not exist, has no favorites left, or no longer counts the
// favorite.
func (s *MongoStore) RemoveFavorite(ctx context.Context, articleID any, favoriteID string) (bool, error) {
	err := s.transact(ctx, func(sc mongo.SessionContext) error {
		if err := mark(sc, s.favoriteMarks, favoriteMarkerID(articleID, favoriteID), false); err != nil {
			return err
		}
		res, err := s.articles.UpdateOne(sc,
			bson.M{"_id": articleID, favoriteCountField: bson.M{"$gt": 0}},
			bson.M{"$inc": bson.M{favoriteCountField: -1}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return errUnchanged
		}
		return nil
	})
	return applied(err, "failed to remove favorite")
}

func (s *MongoStore) transact(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// mark sets the marker id to counted. It returns errUnchanged when the marker
// already holds that state. An absent marker is created, so the first removal
// of a contribution counted before markers existed still goes through.
func mark(ctx context.Context, coll *mongo.Collection, id bson.D, counted bool) error {
	_, err := coll.UpdateOne(ctx,
		bson.M{"_id": id, countedField: bson.M{"$ne": counted}},
		bson.M{"$set": bson.M{countedField: counted}},
		options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// The filter missed an existing marker: it is already in this state.
		return errUnchanged
	}
	return err
}

func applied(err error, msg string) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errUnchanged):
		return false, nil
	default:
		return false, fmt.Errorf("%s: %w", msg, err)
	}
}

func tagMarkerID(tag, articleID string) bson.D {
	return bson.D{{Key: "tag", Value: tag}, {Key: "article", Value: articleID}}
}

func favoriteMarkerID(articleID any, favoriteID string) bson.D {
	return bson.D{{Key: "article", Value: articleID}, {Key: "favorite", Value: favoriteID}}
}
