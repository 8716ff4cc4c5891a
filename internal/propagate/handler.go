// Package propagate contains the handlers that turn change events on source
// collections into writes on derived state.
package propagate

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/syntrixbase/propagator/internal/events"
)

// ErrMissingImage is returned when an event lacks the document image a
// handler needs to compute its effect.
var ErrMissingImage = errors.New("document image not available")

// Handler applies the side effects of one change event.
type Handler interface {
	Handle(ctx context.Context, evt *events.ChangeEvent) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt *events.ChangeEvent) error

func (f HandlerFunc) Handle(ctx context.Context, evt *events.ChangeEvent) error {
	return f(ctx, evt)
}

// AuthorWriter copies author profile fields onto authored documents.
type AuthorWriter interface {
	SetAuthorFields(ctx context.Context, authorID any, fields map[string]any) error
}

// TagCounter maintains per-tag article counters.
type TagCounter interface {
	AddTag(ctx context.Context, tag, articleID string) error
	RemoveTag(ctx context.Context, tag, articleID string) error
}

// FavoriteCounter maintains per-article favorite counters. Both methods
// report whether the counter changed.
type FavoriteCounter interface {
	AddFavorite(ctx context.Context, articleID any, favoriteID string) (bool, error)
	RemoveFavorite(ctx context.Context, articleID any, favoriteID string) (bool, error)
}

// Store is everything the handlers write to.
type Store interface {
	AuthorWriter
	TagCounter
	FavoriteCounter
}

// Binding ties a handler to the collection it watches.
type Binding struct {
	Collection string
	// PreImage requests exact before and after images for the stream.
	PreImage bool
	Handler  Handler
}

// Bindings returns the handler set of the worker, one per watched collection.
func Bindings(store Store, logger *slog.Logger) []Binding {
	return []Binding{
		{Collection: UsersCollection, Handler: NewUserProfile(store, logger)},
		{Collection: ArticlesCollection, PreImage: true, Handler: NewTagList(store, logger)},
		{Collection: FavoritesCollection, PreImage: true, Handler: NewFavorites(store, logger)},
	}
}

const (
	UsersCollection     = "users"
	ArticlesCollection  = "articles"
	FavoritesCollection = "favorites"
)

// truthy reports whether v counts as a present value. Nil, empty strings,
// false, zero and NaN do not.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case int:
		return x != 0
	case int32:
		return x != 0
	case int64:
		return x != 0
	case float32:
		return x != 0 && !math.IsNaN(float64(x))
	case float64:
		return x != 0 && !math.IsNaN(x)
	default:
		return true
	}
}
