// Package derived applies writes to the denormalized fields kept in sync by
// the propagation handlers: author fields on articles and comments, tag
// article counters and article favorite counters.
//
// Counters are plain integer fields. Each contribution to a counter has a
// marker document in a side collection recording whether it is currently
// counted, and the marker flip and the counter change commit together. A
// contribution applied twice finds its marker already flipped and changes
// nothing. A missing marker means the contribution predates this worker, so
// removing it still decrements counts written by earlier data.
package derived

import "errors"

const (
	ArticlesCollection = "articles"
	CommentsCollection = "comments"
	TagsCollection     = "tags"

	// TagArticlesCollection holds one marker per (tag, article) contribution.
	TagArticlesCollection = "tag_articles"
	// FavoriteMarksCollection holds one marker per (article, favorite) contribution.
	FavoriteMarksCollection = "favorite_marks"

	// AuthorKeyField links articles and comments to their author.
	AuthorKeyField = "authorId"

	tagCountField      = "articleCount"
	favoriteCountField = "favoritesCount"
	countedField       = "counted"
)

// errUnchanged aborts a counter transaction that has nothing to apply.
var errUnchanged = errors.New("contribution already applied")
